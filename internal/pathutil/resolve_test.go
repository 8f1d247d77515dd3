package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveAbsolutePathExistingDir(t *testing.T) {
	dir := t.TempDir()
	got, err := ResolveAbsolutePath(dir)
	if err != nil {
		t.Fatalf("ResolveAbsolutePath: %v", err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveAbsolutePathAppendsNonexistentRemainder(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "does", "not", "exist", "yet")
	got, err := ResolveAbsolutePath(nested)
	if err != nil {
		t.Fatalf("ResolveAbsolutePath: %v", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(resolvedDir, "does", "not", "exist", "yet")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveAbsolutePathEmptyUsesCWD(t *testing.T) {
	got, err := ResolveAbsolutePath("")
	if err != nil {
		t.Fatalf("ResolveAbsolutePath: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if got != wd {
		t.Errorf("got %q, want cwd %q", got, wd)
	}
}

func TestResolveAbsolutePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available in this environment")
	}
	got, err := ResolveAbsolutePath("~")
	if err != nil {
		t.Fatalf("ResolveAbsolutePath: %v", err)
	}
	resolvedHome, err := filepath.EvalSymlinks(home)
	if err != nil {
		resolvedHome = home
	}
	if got != resolvedHome {
		t.Errorf("got %q, want %q", got, resolvedHome)
	}
}
