package pressure

import (
	"errors"
	"fmt"

	"github.com/prometheus/procfs"
)

// Sampler はホストのメモリ使用率（0.0〜1.0）を返す
type Sampler interface {
	Usage() (float64, error)
}

// MemInfoSampler は/proc/meminfoから使用率を計算する
type MemInfoSampler struct {
	fs procfs.FS
}

// NewMemInfoSampler はprocfsのマウントポイントを指定してサンプラーを作成する
func NewMemInfoSampler(mountPoint string) (*MemInfoSampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mountPoint, err)
	}
	return &MemInfoSampler{fs: fs}, nil
}

// Usage は (MemTotal - MemAvailable) / MemTotal を返す
func (s *MemInfoSampler) Usage() (float64, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil {
		return 0, errors.New("meminfo: MemTotal or MemAvailable missing")
	}
	total, available := *mi.MemTotal, *mi.MemAvailable
	if total == 0 {
		return 0, errors.New("meminfo: MemTotal is zero")
	}
	if available > total {
		available = total
	}
	return float64(total-available) / float64(total), nil
}

// SamplerFunc は関数をSamplerとして使う
type SamplerFunc func() (float64, error)

func (f SamplerFunc) Usage() (float64, error) {
	return f()
}
