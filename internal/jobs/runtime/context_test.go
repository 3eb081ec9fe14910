package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/solocore/textloom/internal/types"
)

func TestContextPayloadDecoding(t *testing.T) {
	id := uuid.New()
	job := &types.JobRun{
		ID:      uuid.New(),
		JobType: types.JobTypeTextVideoPipeline,
		Payload: datatypes.JSON([]byte(`{"task_id":"` + id.String() + `","mode":"multi_scene","sub_count":3}`)),
	}
	jc := NewContext(context.Background(), nil, job, nil)

	got, ok := jc.PayloadUUID("task_id")
	if !ok || got != id {
		t.Fatalf("PayloadUUID = %v, %v", got, ok)
	}
	if jc.PayloadString("mode") != "multi_scene" {
		t.Fatalf("mode = %q", jc.PayloadString("mode"))
	}
	if jc.PayloadInt("sub_count", 1) != 3 {
		t.Fatalf("sub_count = %d", jc.PayloadInt("sub_count", 1))
	}
	if jc.PayloadInt("missing", 7) != 7 {
		t.Fatal("default not applied")
	}
}

func TestContextPayloadMalformed(t *testing.T) {
	job := &types.JobRun{
		ID:      uuid.New(),
		Payload: datatypes.JSON([]byte(`{"oops`)),
	}
	jc := NewContext(context.Background(), nil, job, nil)
	if jc.Payload() == nil {
		t.Fatal("Payload must never be nil")
	}
	if _, ok := jc.PayloadUUID("task_id"); ok {
		t.Fatal("missing key should not resolve")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("x", HandlerFunc(func(jc *Context) error {
		called = true
		return nil
	}))
	h, ok := r.Get("x")
	if !ok {
		t.Fatal("handler not found")
	}
	_ = h.Run(nil)
	if !called {
		t.Fatal("handler not invoked")
	}
	if _, ok := r.Get("y"); ok {
		t.Fatal("unknown type should not resolve")
	}
}
