package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildCorpus_casesPointAtFiles(t *testing.T) {
	c := BuildCorpus()
	if len(c.TestCases) != len(facts)+5+len(exchanges) {
		t.Fatalf("got %d test cases", len(c.TestCases))
	}
	for _, tc := range c.TestCases {
		content, ok := c.Files[tc.ExpectedPath]
		if !ok {
			t.Errorf("case %q expects missing file %q", tc.Query, tc.ExpectedPath)
			continue
		}
		if strings.HasSuffix(tc.ExpectedPath, ".md") && !strings.Contains(content, tc.Query) {
			t.Errorf("file %q does not contain %q", tc.ExpectedPath, tc.Query)
		}
	}
}

func TestCorpus_Write(t *testing.T) {
	root := t.TempDir()
	c := BuildCorpus()
	if err := c.Write(root); err != nil {
		t.Fatal(err)
	}
	for rel := range c.Files {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}
}
