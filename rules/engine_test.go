package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/liamcoop/formrules/derived"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(NewInMemoryRuleStore())
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	if engine == nil {
		t.Fatal("NewEngine() should return non-nil engine")
	}
}

func TestNewEnginePreparesExistingRules(t *testing.T) {
	store := NewInMemoryRuleStore()
	if err := store.Add(&Rule{ID: "rule-1", Name: "Discount", Config: discountConfig(), Active: true}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	engine, err := NewEngine(store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	result, err := engine.Evaluate("rule-1", derived.FormValues{"age": 25, "price": 100})
	if err != nil {
		t.Fatalf("Evaluate() failed for pre-existing rule: %v", err)
	}
	if !result.Hit || result.Value == nil || *result.Value != 90 {
		t.Errorf("Evaluate() = %+v, want hit with 90", result)
	}
}

func TestNewEngineRejectsInvalidStoredRule(t *testing.T) {
	store := NewInMemoryRuleStore()
	broken := discountConfig()
	broken.Conditions = nil
	if err := store.Add(&Rule{ID: "broken", Config: broken, Active: true}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if _, err := NewEngine(store); err == nil {
		t.Fatal("NewEngine() should fail when an active rule is invalid")
	}
}

func TestPrepareRuleValidation(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())

	noTarget := discountConfig()
	noTarget.Then.TargetFieldID = ""

	err := engine.PrepareRule("r", noTarget)
	if err == nil || !strings.Contains(err.Error(), "target field") {
		t.Errorf("PrepareRule() error = %v, want target field error", err)
	}
}

func TestEvaluateSingleRule(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())
	if err := engine.AddRule(&Rule{ID: "discount", Name: "Adult discount", Config: discountConfig(), Active: true}); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	tests := []struct {
		name      string
		values    derived.FormValues
		wantHit   bool
		wantValue *float64
		wantError string
	}{
		{"adult", derived.FormValues{"age": 25, "price": 100}, true, ptr(90), ""},
		{"minor", derived.FormValues{"age": 10, "price": 100}, false, ptr(0), ""},
		{"missing price", derived.FormValues{"age": 25}, true, nil, "Then action produced NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Evaluate("discount", tt.values)
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}
			if result.RuleName != "Adult discount" || result.TargetFieldID != "discount" {
				t.Errorf("result metadata = %s/%s", result.RuleName, result.TargetFieldID)
			}
			if result.Hit != tt.wantHit {
				t.Errorf("Hit = %v, want %v", result.Hit, tt.wantHit)
			}
			if (result.Value == nil) != (tt.wantValue == nil) || (result.Value != nil && *result.Value != *tt.wantValue) {
				t.Errorf("Value = %v, want %v", deref(result.Value), deref(tt.wantValue))
			}
			if result.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", result.Error, tt.wantError)
			}
			if len(result.Trace) != 1 {
				t.Errorf("Trace has %d entries, want 1", len(result.Trace))
			}
		})
	}
}

func TestEvaluateUnknownRule(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())

	_, err := engine.Evaluate("nope", derived.FormValues{})
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Evaluate() error = %v, want ErrRuleNotFound", err)
	}
}

func TestEvaluateAllRules(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())

	surcharge := discountConfig()
	surcharge.Then.TargetFieldID = "surcharge"
	surcharge.Then.Operator = derived.ArithAdd
	surcharge.Then.Right = derived.ConstantOperand(5)

	for _, r := range []*Rule{
		{ID: "r1", Name: "Discount", Config: discountConfig(), Active: true},
		{ID: "r2", Name: "Surcharge", Config: surcharge, Active: true},
		{ID: "r3", Name: "Inactive", Config: discountConfig(), Active: false},
	} {
		if err := engine.AddRule(r); err != nil {
			t.Fatalf("AddRule(%s) failed: %v", r.ID, err)
		}
	}

	results, err := engine.EvaluateAll(derived.FormValues{"age": 30, "price": 10})
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("EvaluateAll() returned %d results, want 2 active", len(results))
	}

	byTarget := map[string]float64{}
	for _, r := range results {
		if r.Value == nil {
			t.Fatalf("rule %s failed: %s", r.RuleID, r.Error)
		}
		byTarget[r.TargetFieldID] = *r.Value
	}
	if byTarget["discount"] != 9 || byTarget["surcharge"] != 15 {
		t.Errorf("EvaluateAll() values = %v, want discount 9 surcharge 15", byTarget)
	}
}

func TestEvaluateAllContinuesOnError(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())

	divide := discountConfig()
	divide.Then.TargetFieldID = "ratio"
	divide.Then.Operator = derived.ArithDivide
	divide.Then.Right = derived.FieldOperand("zero")

	_ = engine.AddRule(&Rule{ID: "bad", Config: divide, Active: true})
	_ = engine.AddRule(&Rule{ID: "good", Config: discountConfig(), Active: true})

	results, err := engine.EvaluateAll(derived.FormValues{"age": 30, "price": 10, "zero": 0})
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("EvaluateAll() returned %d results, want 2", len(results))
	}

	failed, succeeded := 0, 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("got %d failed / %d succeeded, want 1 / 1", failed, succeeded)
	}
}

func TestEvaluateAllPreparesRulesFromSharedCache(t *testing.T) {
	store := NewInMemoryRuleStore()
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	engine, _ := NewEngineWithCache(store, cache)

	// a rule written by another instance shows up only in the shared cache
	cache.Set([]*Rule{{ID: "remote", Name: "Remote", Config: discountConfig(), Active: true}})

	results, err := engine.EvaluateAll(derived.FormValues{"age": 30, "price": 10})
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != 1 || results[0].Value == nil || *results[0].Value != 9 {
		t.Errorf("EvaluateAll() = %+v, want remote rule evaluated to 9", results)
	}
}

func TestUpdateSeenByOtherInstance(t *testing.T) {
	store := NewInMemoryRuleStore()
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	a, _ := NewEngineWithCache(store, cache)
	if err := a.AddRule(&Rule{ID: "r1", Name: "Discount", Config: discountConfig(), Active: true}); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}
	b, err := NewEngineWithCache(store, cache)
	if err != nil {
		t.Fatalf("NewEngineWithCache() failed: %v", err)
	}

	half := discountConfig()
	half.Then.Right = derived.ConstantOperand(0.5)
	if err := a.UpdateRule(&Rule{ID: "r1", Name: "Half", Config: half, Active: true}); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	values := derived.FormValues{"age": 25, "price": 100}
	for name, engine := range map[string]*Engine{"a": a, "b": b} {
		out, _, err := engine.Apply(values)
		if err != nil {
			t.Fatalf("%s: Apply() failed: %v", name, err)
		}
		if out["discount"] != 50.0 {
			t.Errorf("%s: Apply() discount = %v, want 50", name, out["discount"])
		}

		result, err := engine.Evaluate("r1", values)
		if err != nil {
			t.Fatalf("%s: Evaluate() failed: %v", name, err)
		}
		if result.Value == nil || *result.Value != 50 {
			t.Errorf("%s: Evaluate() = %v, want 50", name, deref(result.Value))
		}
	}
}

func TestEngineApply(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())

	// total reads discount; it must see the submitted value, not the derived one
	total := derived.Config{
		Conditions:      []derived.Condition{{ID: "t1", FieldID: "price", Operator: derived.OpGreaterThan, Value: "0"}},
		LogicalOperator: derived.LogicalAnd,
		Then: derived.ThenAction{
			TargetFieldID: "total",
			Operator:      derived.ArithSubtract,
			Left:          derived.FieldOperand("price"),
			Right:         derived.FieldOperand("discount"),
		},
		Else: derived.ElseConstant(0),
	}

	_ = engine.AddRule(&Rule{ID: "discount", Config: discountConfig(), Active: true})
	_ = engine.AddRule(&Rule{ID: "total", Config: total, Active: true})

	input := derived.FormValues{"age": 30, "price": 100}
	out, results, err := engine.Apply(input)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Apply() returned %d results", len(results))
	}
	if out["discount"] != 90.0 {
		t.Errorf("discount = %v, want 90", out["discount"])
	}
	if v, ok := out["total"]; !ok || v != nil {
		t.Errorf("total = %v, want nil because discount was not an input", v)
	}
	if _, ok := input["discount"]; ok {
		t.Error("Apply() must not mutate its input")
	}
}

func TestEngineAddRuleValidation(t *testing.T) {
	store := NewInMemoryRuleStore()
	engine, _ := NewEngine(store)

	invalid := discountConfig()
	invalid.LogicalOperator = "XOR"

	if err := engine.AddRule(&Rule{ID: "x", Config: invalid, Active: true}); err == nil {
		t.Fatal("AddRule() with invalid config should fail")
	}
	if _, err := store.Get("x"); err == nil {
		t.Error("invalid rule should not be stored")
	}
}

func TestEngineAddRuleDuplicate(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())

	_ = engine.AddRule(&Rule{ID: "x", Config: discountConfig(), Active: true})
	err := engine.AddRule(&Rule{ID: "x", Config: discountConfig(), Active: true})
	if !errors.Is(err, ErrRuleExists) {
		t.Errorf("AddRule() duplicate error = %v, want ErrRuleExists", err)
	}
}

func TestEngineUpdateRule(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())
	_ = engine.AddRule(&Rule{ID: "r", Name: "Discount", Config: discountConfig(), Active: true})

	deeper := discountConfig()
	deeper.Then.Right = derived.ConstantOperand(0.5)
	if err := engine.UpdateRule(&Rule{ID: "r", Name: "Half", Config: deeper, Active: true}); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	result, err := engine.Evaluate("r", derived.FormValues{"age": 30, "price": 100})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.Value == nil || *result.Value != 50 {
		t.Errorf("Evaluate() after update = %v, want 50", deref(result.Value))
	}
	if result.RuleName != "Half" {
		t.Errorf("RuleName = %s, want Half", result.RuleName)
	}
}

func TestEngineUpdateRuleValidation(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())
	_ = engine.AddRule(&Rule{ID: "r", Config: discountConfig(), Active: true})

	broken := discountConfig()
	broken.Then.Operator = "pow"
	if err := engine.UpdateRule(&Rule{ID: "r", Config: broken, Active: true}); err == nil {
		t.Fatal("UpdateRule() with invalid config should fail")
	}

	result, _ := engine.Evaluate("r", derived.FormValues{"age": 30, "price": 100})
	if result.Value == nil || *result.Value != 90 {
		t.Errorf("original config should still be used, got %v", deref(result.Value))
	}
}

func TestEngineDeleteRule(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())
	_ = engine.AddRule(&Rule{ID: "r", Config: discountConfig(), Active: true})

	if err := engine.DeleteRule("r"); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}

	results, _ := engine.EvaluateAll(derived.FormValues{"age": 30, "price": 100})
	if len(results) != 0 {
		t.Errorf("EvaluateAll() after delete returned %d results", len(results))
	}
	if err := engine.DeleteRule("r"); err == nil {
		t.Error("DeleteRule() of a missing rule should fail")
	}
}

func TestEngineConcurrentReadWrite(t *testing.T) {
	engine, _ := NewEngine(NewInMemoryRuleStore())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cfg := discountConfig()
			cfg.Then.TargetFieldID = fmt.Sprintf("out-%d", i)
			if err := engine.AddRule(&Rule{ID: fmt.Sprintf("r-%d", i), Config: cfg, Active: true}); err != nil {
				t.Errorf("AddRule() failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := engine.EvaluateAll(derived.FormValues{"age": 30, "price": 1}); err != nil {
				t.Errorf("EvaluateAll() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	results, _ := engine.EvaluateAll(derived.FormValues{"age": 30, "price": 1})
	if len(results) != 20 {
		t.Errorf("EvaluateAll() returned %d results, want 20", len(results))
	}
}

func ptr(v float64) *float64 { return &v }

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
