// internal/scenario/fuzz_test.go
package scenario

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"go.uber.org/zap"
)

// FuzzParse checks that arbitrary input never panics the parser and that
// anything it accepts also passes validation.
func FuzzParse(f *testing.F) {
	f.Add([]byte(detailPageYAML))
	f.Add([]byte("scenarios:\n- {name: a, steps: [{navigate: x}]}\n"))
	f.Add([]byte(`{"name": "j", "steps": [{"countEquals": {"target": ".t", "expected": 3}}]}`))
	f.Add([]byte("name: ${x}\nsteps: [{click: .a}]"))

	f.Fuzz(func(t *testing.T, data []byte) {
		l := NewLoader(config.ScenarioConfig{}, zap.NewNop())
		l.lookupEnv = func(string) (string, bool) { return "", false }

		scenarios, err := l.Parse(data, "fuzz.yaml")
		if err != nil {
			return
		}
		for _, sc := range scenarios {
			if verr := Validate(sc, Options{}); verr != nil {
				t.Fatalf("parser accepted a scenario that fails validation: %v", verr)
			}
		}
	})
}

// FuzzValidate builds scenarios from structured fuzz input and checks that
// Validate never panics and always rejects empty scenarios.
func FuzzValidate(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		sc := &schemas.Scenario{}
		if err := consumer.GenerateStruct(sc); err != nil {
			return
		}

		err := Validate(sc, Options{})
		if len(sc.Steps) == 0 && err == nil {
			t.Fatalf("empty scenario %q passed validation", sc.Name)
		}
	})
}
