package gpu

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/vct/rt/svo"
)

// mapRead maps buf and copies out its first size bytes, polling the device
// until the mapping completes.
func (m *SVOBufferManager) mapRead(ctx context.Context, buf *wgpu.Buffer, size uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan wgpu.BufferMapAsyncStatus, 1)
	buf.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		done <- status
	})
	for {
		m.Device.Poll(true, nil)
		select {
		case status := <-done:
			if status != wgpu.BufferMapAsyncStatusSuccess {
				return nil, fmt.Errorf("map readback buffer: status %v", status)
			}
			data := buf.GetMappedRange(0, uint(size))
			out := make([]byte, len(data))
			copy(out, data)
			buf.Unmap()
			return out, nil
		default:
		}
	}
}

func (b *Backend) readControl(ctx context.Context) (controlState, error) {
	m := b.buffers
	err := b.submit("Read Control", func(enc *wgpu.CommandEncoder) error {
		enc.CopyBufferToBuffer(m.ControlBuf, 0, m.ControlReadback, 0, controlSize)
		return nil
	})
	if err != nil {
		return controlState{}, err
	}
	data, err := m.mapRead(ctx, m.ControlReadback, controlSize)
	if err != nil {
		return controlState{}, err
	}
	return decodeControl(data)
}

// Stats reads the control block and the node words back and summarizes the
// tree built by the last frame.
func (b *Backend) Stats(ctx context.Context) (svo.Stats, error) {
	m := b.buffers
	words := m.layout.nodeWordsSize()
	err := b.submit("Read Stats", func(enc *wgpu.CommandEncoder) error {
		enc.CopyBufferToBuffer(m.ControlBuf, 0, m.ControlReadback, 0, controlSize)
		enc.CopyBufferToBuffer(m.NodesBuf, 0, m.NodesReadback, 0, words)
		return nil
	})
	if err != nil {
		return svo.Stats{}, err
	}
	ctrl, err := m.mapRead(ctx, m.ControlReadback, controlSize)
	if err != nil {
		return svo.Stats{}, err
	}
	s, err := decodeControl(ctrl)
	if err != nil {
		return svo.Stats{}, err
	}
	nodes, err := m.mapRead(ctx, m.NodesReadback, words)
	if err != nil {
		return svo.Stats{}, err
	}
	return svo.Stats{
		Fragments:           min(s.fragments, m.layout.fragmentCapacity),
		FragmentsOverflowed: s.fragmentOverflow,
		Pool:                poolStats(s, nodes, m.layout, b.grid.NumLevels()),
	}, nil
}

// SyncTexture copies the voxel texture into the grid's CPU-side Texture3D.
func (b *Backend) SyncTexture(ctx context.Context) error {
	m := b.buffers
	r := b.grid.Resolution()
	pitch := alignedRowPitch(r, 4)
	size := uint64(pitch) * uint64(r) * uint64(r)

	staging, err := m.createBuffer("VoxelTextureReadback", size, wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead)
	if err != nil {
		return err
	}
	defer staging.Release()

	err = b.submit("Read Voxel Texture", func(enc *wgpu.CommandEncoder) error {
		enc.CopyTextureToBuffer(
			&wgpu.ImageCopyTexture{
				Texture:  m.VoxelTexture,
				MipLevel: 0,
				Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
				Aspect:   wgpu.TextureAspectAll,
			},
			&wgpu.ImageCopyBuffer{
				Buffer: staging,
				Layout: wgpu.TextureDataLayout{
					Offset:       0,
					BytesPerRow:  pitch,
					RowsPerImage: r,
				},
			},
			&wgpu.Extent3D{Width: r, Height: r, DepthOrArrayLayers: r},
		)
		return nil
	})
	if err != nil {
		return err
	}
	data, err := m.mapRead(ctx, staging, size)
	if err != nil {
		return err
	}

	tex := b.grid.Texture()
	for z := uint32(0); z < r; z++ {
		for y := uint32(0); y < r; y++ {
			row := data[(uint64(z)*uint64(r)+uint64(y))*uint64(pitch):]
			for x := uint32(0); x < r; x++ {
				tex.Store(x, y, z, binary.LittleEndian.Uint32(row[x*4:]))
			}
		}
	}
	return nil
}
