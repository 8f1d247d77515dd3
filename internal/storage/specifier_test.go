package storage

import (
	"errors"
	"testing"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/secret"
)

func TestParseURINetworkFull(t *testing.T) {
	spec, err := ParseURI(`ftp://bob\@corp:p%40ss@host:2121/backups/a.bar`)
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if spec.Kind != KindFTP {
		t.Errorf("kind = %q, want ftp", spec.Kind)
	}
	if spec.User != "bob@corp" {
		t.Errorf("user = %q, want bob@corp", spec.User)
	}
	if spec.Secret == nil {
		t.Fatal("secret not parsed")
	}
	// Percent escapes pass through verbatim: this layer only un-escapes \@.
	want, _ := secret.NewFromString("p%40ss")
	if !spec.Secret.Equal(want) {
		t.Error("secret was decoded or mangled")
	}
	if spec.Host != "host" || spec.Port != 2121 {
		t.Errorf("host:port = %s:%d, want host:2121", spec.Host, spec.Port)
	}
	if spec.Path != "backups/a.bar" {
		t.Errorf("path = %q, want backups/a.bar", spec.Path)
	}
}

func TestParseURIDefaultPorts(t *testing.T) {
	cases := []struct {
		uri  string
		port int
	}{
		{"ftp://host/a.bar", 21},
		{"scp://host/a.bar", 22},
		{"sftp://host/a.bar", 22},
		{"webdav://host/a.bar", 80},
		{"webdavs://host/a.bar", 443},
		{"smb://host/a.bar", 445},
	}
	for _, tc := range cases {
		t.Run(tc.uri, func(t *testing.T) {
			spec, err := ParseURI(tc.uri)
			if err != nil {
				t.Fatalf("ParseURI: %v", err)
			}
			if spec.Port != tc.port {
				t.Errorf("port = %d, want %d", spec.Port, tc.port)
			}
		})
	}
}

func TestParseURIDeviceBody(t *testing.T) {
	spec, err := ParseURI("cd://sr0:staging/a.bar")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if spec.Device != "sr0" {
		t.Errorf("device = %q, want sr0", spec.Device)
	}
	if spec.Path != "staging/a.bar" {
		t.Errorf("path = %q, want staging/a.bar", spec.Path)
	}

	spec, err = ParseURI("dvd://staging/a.bar")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if spec.Device != "" {
		t.Errorf("device = %q, want empty", spec.Device)
	}
	if spec.Path != "staging/a.bar" {
		t.Errorf("path = %q, want staging/a.bar", spec.Path)
	}
}

func TestParseURIFilesystemKeepsBodyVerbatim(t *testing.T) {
	spec, err := ParseURI("file:///var/backups/a.bar")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if spec.Kind != KindFilesystem || spec.Path != "/var/backups/a.bar" {
		t.Errorf("got kind=%q path=%q", spec.Kind, spec.Path)
	}
}

func TestParseURIErrors(t *testing.T) {
	cases := []string{
		"no-scheme-separator",
		"gopher://host/a.bar",
		"ftp://host:notaport/a.bar",
		"ftp:///a.bar",
	}
	for _, uri := range cases {
		t.Run(uri, func(t *testing.T) {
			_, err := ParseURI(uri)
			var invalid *barerr.InvalidUri
			if !errors.As(err, &invalid) {
				t.Fatalf("err = %v, want InvalidUri", err)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	mustSecret := func(s string) *secret.Password {
		pw, err := secret.NewFromString(s)
		if err != nil {
			t.Fatalf("NewFromString: %v", err)
		}
		return pw
	}

	specs := []*Specifier{
		{Kind: KindFilesystem, Path: "/tmp/a.bar"},
		{Kind: KindFTP, Host: "host", Port: 21, Path: "a.bar"},
		{Kind: KindFTP, Host: "host", Port: 2121, User: "bob@corp", Secret: mustSecret("s3cret"), Path: "backups/a.bar"},
		{Kind: KindSFTP, Host: "backup.example.com", Port: 22, User: "root", Path: "srv/a.bar"},
		{Kind: KindWebDAVS, Host: "dav.example.com", Port: 443, Path: "a.bar"},
		{Kind: KindSMB, Host: "nas", Port: 445, User: "admin", Path: "a.bar"},
		{Kind: KindCD, Device: "sr0", Path: "stage/a.bar"},
		{Kind: KindDevice, Path: "stage/a.bar"},
	}
	for _, want := range specs {
		t.Run(FormatURI(want), func(t *testing.T) {
			got, err := ParseURI(FormatURI(want))
			if err != nil {
				t.Fatalf("ParseURI(FormatURI): %v", err)
			}
			if got.Kind != want.Kind || got.Host != want.Host || got.Port != want.Port ||
				got.User != want.User || got.Device != want.Device || got.Path != want.Path {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
			}
			switch {
			case want.Secret == nil && got.Secret != nil:
				t.Error("secret appeared from nowhere")
			case want.Secret != nil && (got.Secret == nil || !got.Secret.Equal(want.Secret)):
				t.Error("secret did not survive the round trip")
			}
		})
	}
}

func TestEscapedAtSurvivesRoundTrip(t *testing.T) {
	uri := `ftp://bob\@corp@host/a.bar`
	spec, err := ParseURI(uri)
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if spec.User != "bob@corp" {
		t.Fatalf("user = %q, want bob@corp", spec.User)
	}
	if got := FormatURI(spec); got != uri {
		t.Errorf("FormatURI = %q, want %q", got, uri)
	}
}

func TestBaseName(t *testing.T) {
	cases := []struct {
		path string
		want string
		err  bool
	}{
		{"backups/a.bar", "a.bar", false},
		{"a.bar", "a.bar", false},
		{"backups/nested/", "nested", false},
		{"", "", true},
		{"///", "", true},
	}
	for _, tc := range cases {
		spec := &Specifier{Kind: KindFilesystem, Path: tc.path}
		got, err := spec.BaseName()
		if tc.err {
			var noName *barerr.NoArchiveFileName
			if !errors.As(err, &noName) {
				t.Errorf("BaseName(%q) err = %v, want NoArchiveFileName", tc.path, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("BaseName(%q) = %q, %v; want %q", tc.path, got, err, tc.want)
		}
	}
}

func TestKindPredicates(t *testing.T) {
	for _, k := range []Kind{KindCD, KindDVD, KindBD, KindDevice} {
		if !k.IsVolumed() {
			t.Errorf("%q should be volumed", k)
		}
		if k.IsNetwork() {
			t.Errorf("%q should not be network", k)
		}
	}
	for _, k := range []Kind{KindFTP, KindSCP, KindSFTP, KindWebDAV, KindWebDAVS, KindSMB} {
		if !k.IsNetwork() {
			t.Errorf("%q should be network", k)
		}
		if k.IsVolumed() {
			t.Errorf("%q should not be volumed", k)
		}
	}
	if KindFilesystem.IsNetwork() || KindFilesystem.IsVolumed() {
		t.Error("file kind is neither network nor volumed")
	}
}
