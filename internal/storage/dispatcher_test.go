package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/barerr"
)

// fakeBackend records the order of the calls the dispatcher routes to it.
type fakeBackend struct {
	Unsupported
	calls   *[]string
	handles map[string]*fakeHandle
}

func newFakeBackend(kind Kind) *fakeBackend {
	return &fakeBackend{
		Unsupported: NewUnsupported(kind),
		calls:       &[]string{},
		handles:     make(map[string]*fakeHandle),
	}
}

func (b *fakeBackend) record(op, path string) {
	*b.calls = append(*b.calls, op+" "+path)
}

func (b *fakeBackend) Create(ctx context.Context, spec *Specifier, policy CreatePolicy) (Handle, error) {
	b.record("create", spec.Path)
	h := &fakeHandle{backend: b, path: spec.Path}
	b.handles[spec.Path] = h
	return h, nil
}

func (b *fakeBackend) Open(ctx context.Context, spec *Specifier) (Handle, error) {
	b.record("open", spec.Path)
	h, ok := b.handles[spec.Path]
	if !ok {
		return nil, &barerr.FileNotFound{Path: spec.Path}
	}
	return h, nil
}

func (b *fakeBackend) PreProcess(ctx context.Context, spec *Specifier) error {
	b.record("pre", spec.Path)
	return nil
}

func (b *fakeBackend) PostProcess(ctx context.Context, spec *Specifier) error {
	b.record("post", spec.Path)
	return nil
}

type fakeHandle struct {
	backend *fakeBackend
	path    string
	data    []byte
	off     int
}

func (h *fakeHandle) Read(p []byte) (int, error) {
	n := copy(p, h.data[h.off:])
	h.off += n
	return n, nil
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.backend.record("write", h.path)
	h.data = append(h.data, p...)
	return len(p), nil
}

func (h *fakeHandle) Close() error {
	h.backend.record("close", h.path)
	return nil
}

func (h *fakeHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	return 0, errors.New("not seekable")
}
func (h *fakeHandle) Tell() (int64, error)      { return int64(h.off), nil }
func (h *fakeHandle) Size() (int64, bool)       { return int64(len(h.data)), true }
func (h *fakeHandle) Direction() Direction      { return DirectionWrite }
func (h *fakeHandle) IsReadable() bool          { return true }
func (h *fakeHandle) IsWritable() bool          { return true }

func TestDispatcherRoutesToRegisteredBackend(t *testing.T) {
	disp := NewDispatcher()
	b := newFakeBackend(KindFTP)
	disp.Register(b)

	spec := &Specifier{Kind: KindFTP, Host: "host", Path: "a.bar"}
	if _, err := disp.Create(context.Background(), spec, PolicyOverwrite); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(*b.calls) != 1 || (*b.calls)[0] != "create a.bar" {
		t.Errorf("calls = %v", *b.calls)
	}
}

func TestDispatcherUnregisteredKindNotSupported(t *testing.T) {
	disp := NewDispatcher()
	spec := &Specifier{Kind: KindSMB, Host: "nas", Path: "a.bar"}

	_, err := disp.Open(context.Background(), spec)
	var ns *barerr.NotSupported
	if !errors.As(err, &ns) {
		t.Fatalf("err = %v, want NotSupported", err)
	}
}

func TestDispatcherUnsupportedOperationDefault(t *testing.T) {
	disp := NewDispatcher()
	disp.Register(newFakeBackend(KindFTP))
	spec := &Specifier{Kind: KindFTP, Host: "host", Path: "a.bar"}

	// fakeBackend overrides only create/open/pre/post; everything else
	// falls through to the embedded defaults.
	err := disp.Delete(context.Background(), spec)
	var ns *barerr.NotSupported
	if !errors.As(err, &ns) {
		t.Fatalf("Delete err = %v, want NotSupported", err)
	}
}

func TestVolumeOpenerPartNaming(t *testing.T) {
	o := &VolumeOpener{Base: &Specifier{Kind: KindFilesystem, Path: "/tmp/a.bar"}}
	cases := []struct {
		ordinal int
		want    string
	}{
		{0, "/tmp/a.bar"},
		{1, "/tmp/a.bar.2"},
		{2, "/tmp/a.bar.3"},
	}
	for _, tc := range cases {
		if got := o.PartSpecifier(tc.ordinal).Path; got != tc.want {
			t.Errorf("PartSpecifier(%d).Path = %q, want %q", tc.ordinal, got, tc.want)
		}
	}
	// The base specifier itself must stay untouched.
	if o.Base.Path != "/tmp/a.bar" {
		t.Errorf("base mutated to %q", o.Base.Path)
	}
}

func TestVolumeOpenerBracketsWritesWithPrePost(t *testing.T) {
	disp := NewDispatcher()
	b := newFakeBackend(KindCD)
	disp.Register(b)

	o := &VolumeOpener{
		Disp:   disp,
		Base:   &Specifier{Kind: KindCD, Path: "a.bar"},
		Policy: PolicyOverwrite,
		Ctx:    context.Background(),
	}

	w, err := o.OpenForWrite(1)
	if err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{"pre a.bar.2", "create a.bar.2", "write a.bar.2", "close a.bar.2", "post a.bar.2"}
	if len(*b.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", *b.calls, want)
	}
	for i := range want {
		if (*b.calls)[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (full: %v)", i, (*b.calls)[i], want[i], *b.calls)
		}
	}
}

func TestReadVolumeOpenerTranslatesMissingPart(t *testing.T) {
	disp := NewDispatcher()
	disp.Register(newFakeBackend(KindFilesystem))
	o := &VolumeOpener{
		Disp: disp,
		Base: &Specifier{Kind: KindFilesystem, Path: "a.bar"},
		Ctx:  context.Background(),
	}

	_, err := o.ReadVolumeOpener()(3)
	if err == nil {
		t.Fatal("expected error for missing part")
	}
	var notFound *barerr.FileNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want FileNotFound in chain", err)
	}
	if !errors.Is(err, archive.ErrNoMorePart) {
		t.Fatalf("err = %v, want ErrNoMorePart in chain", err)
	}
}
