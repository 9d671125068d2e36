package kilnc_test

import (
	"testing"

	"kiln/internal/diag"
	"kiln/internal/frontend/kilnc"
	"kiln/internal/testkit"
)

func TestParsedSpansHold(t *testing.T) {
	sources := []string{
		"package p;\nimport q.R;\npublic class A extends R {\n  int x;\n  void m() { new Foo(); }\n  static class In {}\n}\nclass B {}\n",
		"class A { void m() { Runnable r = new Runnable() { public void run() {} }; class L {} } }\n",
		"package p;\nclass A {\n  int ;\n  void ok() {}\n}\n",
	}
	for _, src := range sources {
		f := kilnc.Parse([]byte(src), "src/p/A.kl", diag.NopReporter{})
		if err := testkit.CheckSpanInvariants(f, []byte(src)); err != nil {
			t.Fatalf("%v\nsource:\n%s", err, src)
		}
	}
}
