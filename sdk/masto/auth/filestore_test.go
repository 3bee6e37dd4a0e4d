package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeFileOps is an in-memory FileOps for exercising the stores without
// touching the filesystem.
type fakeFileOps struct {
	data     []byte
	exists   bool
	writeErr error
	readErr  error
}

func (f *fakeFileOps) Write(data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.data = append([]byte(nil), data...)
	f.exists = true
	return nil
}

func (f *fakeFileOps) Read() ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if !f.exists {
		return nil, os.ErrNotExist
	}
	return f.data, nil
}

func (f *fakeFileOps) Delete() error {
	if !f.exists {
		return os.ErrNotExist
	}
	f.data = nil
	f.exists = false
	return nil
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ops := &fakeFileOps{}
	store := NewFileStore(ops)
	ctx := context.Background()

	saved := &Credentials{AccessToken: "tok", RefreshToken: "ref", Scopes: []string{"read"}}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("Load() = nil after Save")
	}
	if loaded.AccessToken != "tok" || loaded.RefreshToken != "ref" {
		t.Errorf("Load() = %+v, want saved tokens", loaded)
	}
}

func TestFileStoreLoadAbsent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ops  *fakeFileOps
	}{
		{"missing file", &fakeFileOps{}},
		{"empty file", &fakeFileOps{exists: true}},
		{"malformed JSON", &fakeFileOps{exists: true, data: []byte("{broken")}},
		{"valid JSON wrong schema", &fakeFileOps{exists: true, data: []byte(`{"foo":"bar"}`)}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			creds, err := NewFileStore(tt.ops).Load(context.Background())
			if err != nil {
				t.Errorf("Load() error = %v, want nil", err)
			}
			if creds != nil {
				t.Errorf("Load() = %+v, want nil", creds)
			}
		})
	}
}

func TestFileStoreClear(t *testing.T) {
	t.Parallel()

	ops := &fakeFileOps{}
	store := NewFileStore(ops)
	ctx := context.Background()

	// Clearing an empty store is a no-op.
	if err := store.Clear(ctx); err != nil {
		t.Errorf("Clear() on empty store error = %v", err)
	}

	if err := store.Save(ctx, &Credentials{AccessToken: "tok"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	creds, err := store.Load(ctx)
	if err != nil || creds != nil {
		t.Errorf("Load() after Clear = (%+v, %v), want (nil, nil)", creds, err)
	}
}

func TestFileStoreSaveNil(t *testing.T) {
	t.Parallel()

	if err := NewFileStore(&fakeFileOps{}).Save(context.Background(), nil); err == nil {
		t.Error("Save(nil) error = nil, want error")
	}
}

func TestOSFileOps(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	ops := NewOSFileOps(path)

	if _, err := ops.Read(); !os.IsNotExist(err) {
		t.Errorf("Read() of missing file error = %v, want not-exist", err)
	}

	if err := ops.Write([]byte(`{"accessToken":"tok"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat written file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	data, err := ops.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"accessToken":"tok"}` {
		t.Errorf("Read() = %s, want written payload", data)
	}

	if err = ops.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err = ops.Read(); !os.IsNotExist(err) {
		t.Errorf("Read() after Delete error = %v, want not-exist", err)
	}
}
