package validate_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ledgercore/node/foundation/validate"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

type item struct {
	Name   string `json:"name" validate:"required"`
	Amount uint64 `json:"amount" validate:"gt=0"`
	Kind   string `json:"kind" validate:"omitempty,oneof=a b"`
}

func Test_Check(t *testing.T) {
	if err := validate.Check(item{Name: "x", Amount: 1}); err != nil {
		t.Fatalf("\t%s\tShould accept a valid value: %s", failed, err)
	}
	t.Logf("\t%s\tShould accept a valid value.", success)

	err := validate.Check(item{Kind: "c"})
	if !validate.IsFieldErrors(err) {
		t.Fatalf("\t%s\tShould return field errors: %v", failed, err)
	}

	fields := validate.GetFieldErrors(fmt.Errorf("wrapped: %w", err)).Fields()
	for _, name := range []string{"name", "amount", "kind"} {
		if _, exists := fields[name]; !exists {
			t.Fatalf("\t%s\tShould report field %q: %v", failed, name, fields)
		}
	}
	t.Logf("\t%s\tShould report every failing field by its json name.", success)

	if validate.GetFieldErrors(errors.New("plain")) != nil {
		t.Fatalf("\t%s\tShould not find field errors in a plain error.", failed)
	}
}
