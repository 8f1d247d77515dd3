package volume

import "testing"

func TestExpandTemplateSubstitutesKnownPlaceholders(t *testing.T) {
	vars := TemplateVars{
		Device:    "/dev/sr0",
		Directory: "/tmp/stage",
		Image:     "/tmp/stage/image.iso",
		File:      "archive.bar.001",
		Number:    "1",
		Sectors:   "358400",
		J:         "4",
		J1:        "3",
	}
	got := ExpandTemplate("growisofs -Z %device -J %j -jobs %j1 -o %image %directory/%file", vars)
	want := "growisofs -Z /dev/sr0 -J 4 -jobs 3 -o /tmp/stage/image.iso /tmp/stage/archive.bar.001"
	if got != want {
		t.Errorf("ExpandTemplate = %q, want %q", got, want)
	}
}

func TestExpandTemplateLeavesUnknownPlaceholdersIntact(t *testing.T) {
	got := ExpandTemplate("burn %unknown %device", TemplateVars{Device: "/dev/sr0"})
	want := "burn %unknown /dev/sr0"
	if got != want {
		t.Errorf("ExpandTemplate = %q, want %q", got, want)
	}
}

func TestExpandTemplateJ1PrecedesJ(t *testing.T) {
	got := ExpandTemplate("%j1-%j", TemplateVars{J: "4", J1: "3"})
	if got != "3-4" {
		t.Errorf("ExpandTemplate = %q, want %q (longer %%j1 token must win over %%j)", got, "3-4")
	}
}
