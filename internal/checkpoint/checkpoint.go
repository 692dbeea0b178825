// Package checkpoint persists worker identities and their tracked objects
// so a later run can resume against the same ledger state.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"churn-bench/internal/identity"
	"churn-bench/internal/ledger"
)

var (
	// ErrAddressMismatch は保存されたアドレスが鍵から導出したものと一致しない
	ErrAddressMismatch = errors.New("address does not match key")
	// ErrNoWorkers はチェックポイントにワーカーが含まれていない
	ErrNoWorkers = errors.New("checkpoint has no workers")
)

// Record は1ワーカー分の保存内容
type Record struct {
	WorkerID int          `json:"worker_id" yaml:"worker_id"`
	Address  string       `json:"address" yaml:"address"`
	Key      string       `json:"keypair_base64" yaml:"keypair_base64"`
	Objects  []ledger.Ref `json:"objects" yaml:"objects"`
}

// File はチェックポイントファイル全体
type File struct {
	TotalObjects int      `json:"total_objects" yaml:"total_objects"`
	Workers      []Record `json:"workers" yaml:"workers"`
}

// NewRecord はワーカーの状態から保存内容を作る
func NewRecord(workerID int, id *identity.Identity, objects []ledger.Ref) Record {
	if objects == nil {
		objects = []ledger.Ref{}
	}
	return Record{
		WorkerID: workerID,
		Address:  id.Address(),
		Key:      id.Encode(),
		Objects:  objects,
	}
}

// Identity は保存された鍵を復元し、アドレスが一致することを確認する
func (r Record) Identity() (*identity.Identity, error) {
	id, err := identity.Decode(r.Key)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", r.WorkerID, err)
	}
	if id.Address() != r.Address {
		return nil, fmt.Errorf("worker %d: %w: stored %s, derived %s", r.WorkerID, ErrAddressMismatch, r.Address, id.Address())
	}
	return id, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Save はレコードをファイルに書き出す。一時ファイルに書いてから置き換える
func Save(path string, records []Record) (*File, error) {
	f := &File{Workers: records}
	for _, r := range records {
		f.TotalObjects += len(r.Objects)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(f)
	} else {
		data, err = json.MarshalIndent(f, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("replace checkpoint: %w", err)
	}
	return f, nil
}

// Load はファイルを読み込む
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var f File
	if isYAML(path) {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if len(f.Workers) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoWorkers)
	}
	return &f, nil
}
