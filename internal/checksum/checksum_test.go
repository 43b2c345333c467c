package checksum

import (
	"strings"
	"testing"
)

func TestSum(t *testing.T) {
	// SHA-256 of the empty input.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != empty {
		t.Errorf("Sum(nil) = %s", got)
	}
	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Error("different inputs should not share a digest")
	}
}

func TestKey(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("part boundaries should affect the key")
	}
	if Key("ns", "text") != Sum([]byte("ns\x00text")) {
		t.Error("Key should digest NUL-joined parts")
	}
	if Key("x") != Sum([]byte("x")) {
		t.Error("single part should equal Sum")
	}
}

func TestSumReader(t *testing.T) {
	got, err := SumReader(strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if got != Sum([]byte("payload")) {
		t.Errorf("SumReader = %s, want Sum of the same bytes", got)
	}
}
