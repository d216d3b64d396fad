package gate

import (
	"testing"

	"github.com/hcwagner/orchestrator/internal/types"
)

func TestClassifyEmptyQueryIsModerateNoAgent(t *testing.T) {
	d := Classify("   ")
	if d.Complexity != types.Moderate || d.Agent != "" {
		t.Errorf("got %+v, want MODERATE with no agent", d)
	}
}

func TestClassifyTrivialWhatTimeIsIt(t *testing.T) {
	d := Classify("what time is it?")
	if d.Complexity != types.Trivial {
		t.Errorf("got %v, want TRIVIAL", d.Complexity)
	}
}

func TestClassifySimpleFind(t *testing.T) {
	d := Classify("find foo.py")
	if d.Complexity != types.Simple || d.Agent != types.AgentFile {
		t.Errorf("got %+v, want SIMPLE/file", d)
	}
}

func TestClassifyComplexRefactor(t *testing.T) {
	d := Classify("please refactor this module")
	if d.Complexity != types.Complex {
		t.Errorf("got %v, want COMPLEX", d.Complexity)
	}
}

func TestClassifyModerateFromConjunction(t *testing.T) {
	d := Classify("open the file and save it")
	if d.Complexity != types.Moderate {
		t.Errorf("got %v, want MODERATE", d.Complexity)
	}
}

func TestClassifyModerateFromMultipleExtensions(t *testing.T) {
	d := Classify("compare main.go and main.py")
	if d.Complexity != types.Moderate {
		t.Errorf("got %v, want MODERATE", d.Complexity)
	}
}

func TestClassifyUnmatchedFallsBackToModerate(t *testing.T) {
	d := Classify("xyzzy plugh")
	if d.Complexity != types.Moderate || d.Agent != "" {
		t.Errorf("got %+v, want MODERATE with no suggestion", d)
	}
}
