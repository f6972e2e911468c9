package domain

import (
	"math"
	"testing"
)

func TestMutation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Mutation
		wantErr bool
	}{
		{"move", NewMove("t1", 1, 2), false},
		{"move NaN", NewMove("t1", math.NaN(), 2), true},
		{"move Inf", NewMove("t1", 1, math.Inf(1)), true},
		{"move without payload", Mutation{Type: MutationMove, EntityID: "t1"}, true},
		{"move with extra payload", Mutation{Type: MutationMove, EntityID: "t1", Move: &MovePayload{}, State: &StatePayload{Unset: []string{"a"}}}, true},
		{"state update", NewStateUpdate("t1", map[string]any{"hp": 3}), false},
		{"state update empty", NewStateUpdate("t1", nil), true},
		{"state update empty key", NewStateUpdate("t1", map[string]any{"": 1}), true},
		{"global update", NewGlobalUpdate("fog", map[string]any{"enabled": true}), false},
		{"create", NewCreate("t2", CreatePayload{Kind: KindToken}), false},
		{"create without kind", NewCreate("t2", CreatePayload{}), true},
		{"remove", NewRemove("t1"), false},
		{"remove with payload", Mutation{Type: MutationRemoveEntity, EntityID: "t1", Move: &MovePayload{}}, true},
		{"unknown type", Mutation{Type: "teleport", EntityID: "t1"}, true},
		{"empty entity", NewMove("", 1, 1), true},
		{"entity with space", NewMove("t 1", 1, 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && KindOf(err) != KindRejected {
				t.Errorf("KindOf(Validate()) = %q, want %q", KindOf(err), KindRejected)
			}
		})
	}
}

func TestMutation_Apply(t *testing.T) {
	token := &Entity{ID: "t1", Kind: KindToken, Position: Position{X: 1, Y: 1}, State: map[string]any{"hp": 10}, Version: 4}

	t.Run("move does not touch the input", func(t *testing.T) {
		next, err := NewMove("t1", 5, 5).Apply(token)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if next.Position != (Position{X: 5, Y: 5}) {
			t.Errorf("Position = %+v, want (5,5)", next.Position)
		}
		if token.Position != (Position{X: 1, Y: 1}) {
			t.Error("Apply() modified the current entity")
		}
	})

	t.Run("state update sets and unsets", func(t *testing.T) {
		next, err := NewStateUpdate("t1", map[string]any{"prone": true}, "hp").Apply(token)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if _, ok := next.State["hp"]; ok {
			t.Error("hp should be unset")
		}
		if next.State["prone"] != true {
			t.Error("prone should be set")
		}
		if token.State["hp"] != 10 {
			t.Error("Apply() modified the current state bag")
		}
	})

	t.Run("create on live id", func(t *testing.T) {
		_, err := NewCreate("t1", CreatePayload{Kind: KindToken}).Apply(token)
		if !IsDomainError(err, ErrEntityExists.Code) {
			t.Errorf("Apply() error = %v, want %v", err, ErrEntityExists)
		}
	})

	t.Run("move on missing entity", func(t *testing.T) {
		_, err := NewMove("nope", 1, 1).Apply(nil)
		if !IsDomainError(err, ErrEntityNotFound.Code) {
			t.Errorf("Apply() error = %v, want %v", err, ErrEntityNotFound)
		}
	})

	t.Run("remove", func(t *testing.T) {
		next, err := NewRemove("t1").Apply(token)
		if err != nil || next != nil {
			t.Errorf("Apply() = %v, %v; want nil, nil", next, err)
		}
	})

	t.Run("global update creates global entity", func(t *testing.T) {
		next, err := NewGlobalUpdate("fog", map[string]any{"enabled": true}).Apply(nil)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if !next.IsGlobal() {
			t.Errorf("Kind = %q, want %q", next.Kind, KindGlobal)
		}
	})

	t.Run("global update on token", func(t *testing.T) {
		_, err := NewGlobalUpdate("t1", map[string]any{"x": 1}).Apply(token)
		if !IsDomainError(err, ErrMalformedMutation.Code) {
			t.Errorf("Apply() error = %v, want %v", err, ErrMalformedMutation)
		}
	})
}

func TestEntity_SameValue(t *testing.T) {
	a := &Entity{ID: "t1", Kind: KindToken, Position: Position{X: 1, Y: 2}, State: map[string]any{"hp": 5}}
	b := a.Clone()
	b.State["hp"] = float64(5) // as decoded from JSON
	b.Version = 9

	if !a.SameValue(b) {
		t.Error("SameValue() should ignore numeric representation and version")
	}

	b.Position.X = 3
	if a.SameValue(b) {
		t.Error("SameValue() should detect position changes")
	}

	var nilEntity *Entity
	if !nilEntity.SameValue(nil) {
		t.Error("two nil entities should be equal")
	}
	if a.SameValue(nil) {
		t.Error("entity should not equal nil")
	}
}

func TestGenerateEntityID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateEntityID()
		if err != nil {
			t.Fatalf("GenerateEntityID() error = %v", err)
		}
		if !IsValidEntityID(id) {
			t.Errorf("generated ID is not valid: %q", id)
		}
		if seen[id] {
			t.Errorf("duplicate ID generated: %q", id)
		}
		seen[id] = true
	}
}
