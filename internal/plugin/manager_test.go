package plugin

import (
	"context"
	"fmt"
	"testing"

	"github.com/jarvis-labs/fabric/internal/toolsafety"
)

type stubPlugin struct {
	name     string
	register func(api API) error
}

func (p *stubPlugin) Name() string { return p.name }
func (p *stubPlugin) Register(api API) error {
	return p.register(api)
}

func TestLoadRegistersToolIntoSharedRegistry(t *testing.T) {
	tools := toolsafety.NewRegistry()
	m := NewManager(tools, nil)

	p := &stubPlugin{name: "weather", register: func(api API) error {
		return api.RegisterTool(toolsafety.Descriptor{Name: "get_weather"})
	}}
	if err := m.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := tools.Get("get_weather"); !ok {
		t.Fatal("expected tool registered via plugin API to land in the shared registry")
	}
}

func TestFireDispatchesInRegistrationOrder(t *testing.T) {
	tools := toolsafety.NewRegistry()
	m := NewManager(tools, nil)

	var order []int
	p := &stubPlugin{name: "ordered", register: func(api API) error {
		for i := 0; i < 3; i++ {
			i := i
			if err := api.On(HookSessionStart, func(ctx context.Context, e Event) error {
				order = append(order, i)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}}
	if err := m.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m.Fire(context.Background(), HookSessionStart, Event{Name: HookSessionStart})
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("order = %v, want [0 1 2]", order)
	}
}

func TestFireSwallowsPanicsAndErrors(t *testing.T) {
	tools := toolsafety.NewRegistry()
	m := NewManager(tools, nil)

	ran := false
	p := &stubPlugin{name: "flaky", register: func(api API) error {
		if err := api.On(HookTaskFailed, func(ctx context.Context, e Event) error {
			panic("boom")
		}); err != nil {
			return err
		}
		return api.On(HookTaskFailed, func(ctx context.Context, e Event) error {
			ran = true
			return fmt.Errorf("reported but swallowed")
		})
	}}
	if err := m.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m.Fire(context.Background(), HookTaskFailed, Event{})
	if !ran {
		t.Fatal("expected second handler to run despite first panicking")
	}
}

func TestPromptSectionsSortedByPriority(t *testing.T) {
	tools := toolsafety.NewRegistry()
	m := NewManager(tools, nil)

	p := &stubPlugin{name: "prompts", register: func(api API) error {
		if err := api.RegisterPromptSection(10, func(ctx context.Context) (string, error) {
			return "second", nil
		}); err != nil {
			return err
		}
		return api.RegisterPromptSection(1, func(ctx context.Context) (string, error) {
			return "first", nil
		})
	}}
	if err := m.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sections := m.PromptSections(context.Background())
	if len(sections) != 2 || sections[0] != "first" || sections[1] != "second" {
		t.Fatalf("sections = %v, want [first second]", sections)
	}
}
