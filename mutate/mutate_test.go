package mutate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	_ "github.com/Qwiery/qwiery-sub001/expr/goja"
)

func mutate(t *testing.T, template interface{}, mc *Context) interface{} {
	t.Helper()
	x, err := Mutate(context.Background(), template, mc)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func TestMutateFreeGetter(t *testing.T) {
	x := mutate(t, map[string]interface{}{"z": "one %name"}, &Context{
		Variables: map[string]interface{}{"name": "x"},
	})
	want := map[string]interface{}{"z": "one x"}
	if !reflect.DeepEqual(x, want) {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateDefaultFallback(t *testing.T) {
	x := mutate(t, map[string]interface{}{"z": "%x:4"}, &Context{})
	want := map[string]interface{}{"z": "4"}
	if !reflect.DeepEqual(x, want) {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateUnresolvedGetterStays(t *testing.T) {
	x := mutate(t, map[string]interface{}{"z": "hello %who"}, &Context{})
	want := map[string]interface{}{"z": "hello %who"}
	if !reflect.DeepEqual(x, want) {
		t.Fatalf("got %#v", x)
	}
}

func TestMutatePositionalGetter(t *testing.T) {
	x := mutate(t, "you said %1", &Context{
		GetWildcard: func(index string) (interface{}, bool) {
			if index == "1" {
				return "cheese", true
			}
			return nil, false
		},
	})
	if x != "you said cheese" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateSystemGetter(t *testing.T) {
	x := mutate(t, "it is %%time now", &Context{
		GetSystemVariable: func(name string) (interface{}, bool) {
			if name == "time" {
				return "noon", true
			}
			return nil, false
		},
	})
	if x != "it is noon now" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateNestedConditional(t *testing.T) {
	template := map[string]interface{}{
		"val": map[string]interface{}{
			"%if": "key1>key2",
			"%then": map[string]interface{}{
				"b": map[string]interface{}{
					"%if":   "key3>key4",
					"%then": "%{x}",
					"%else": "%{y}",
				},
			},
			"%else": map[string]interface{}{"b": "failed"},
		},
	}
	x := mutate(t, template, &Context{
		Variables: map[string]interface{}{
			"key1": 2, "key2": 1, "key3": 4, "key4": 3,
			"x": "a", "y": "b",
		},
	})
	want := map[string]interface{}{
		"val": map[string]interface{}{"b": "a"},
	}
	if !reflect.DeepEqual(x, want) {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateSwitch(t *testing.T) {
	template := map[string]interface{}{
		"%switch": "mood",
		"happy":   "great to hear",
		"sad":     "sorry to hear",
	}
	x := mutate(t, template, &Context{
		Variables: map[string]interface{}{"mood": "sad"},
	})
	if x != "sorry to hear" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateEvalRawResult(t *testing.T) {
	x := mutate(t, map[string]interface{}{"n": map[string]interface{}{"%eval": "2+3"}}, &Context{})
	m, is := x.(map[string]interface{})
	if !is {
		t.Fatalf("got %#v", x)
	}
	switch n := m["n"].(type) {
	case int64:
		if n != 5 {
			t.Fatalf("got %#v", n)
		}
	case float64:
		if n != 5 {
			t.Fatalf("got %#v", n)
		}
	default:
		t.Fatalf("got a %T", m["n"])
	}
}

func TestMutateJoin(t *testing.T) {
	template := map[string]interface{}{
		"%join": []interface{}{"hello", "%name", "there"},
	}
	x := mutate(t, template, &Context{
		Variables: map[string]interface{}{"name": "Ada"},
	})
	if x != "hello Ada there" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateJoinNonArray(t *testing.T) {
	_, err := Mutate(context.Background(), map[string]interface{}{"%join": "nope"}, &Context{})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestMutateRand(t *testing.T) {
	template := map[string]interface{}{
		"%rand": []interface{}{"only"},
	}
	x := mutate(t, template, &Context{})
	if x != "only" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateFromNow(t *testing.T) {
	x := mutate(t, map[string]interface{}{"%fromNow": "1d 2h 3m"}, &Context{})
	s, is := x.(string)
	if !is {
		t.Fatalf("got %#v", x)
	}
	when, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	d := time.Until(when)
	want := 24*time.Hour + 2*time.Hour + 3*time.Minute
	if d < want-time.Minute || want+time.Minute < d {
		t.Fatalf("got %v away", d)
	}
}

func TestMutateFromNowUnparseable(t *testing.T) {
	_, err := Mutate(context.Background(), map[string]interface{}{"%fromNow": "whenever"}, &Context{})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestMutateService(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"temp":21}}`))
	}))
	defer ts.Close()

	fetch, err := HTTPFetcher(time.Second)
	if err != nil {
		t.Fatal(err)
	}

	template := map[string]interface{}{
		"%service": map[string]interface{}{
			"URL":  ts.URL + "/?q=%topic",
			"Path": "data.temp",
		},
	}
	x := mutate(t, template, &Context{
		Variables: map[string]interface{}{"topic": "weather"},
		Fetch:     fetch,
	})
	n, is := x.(float64)
	if !is || n != 21 {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateEntityPlaceholder(t *testing.T) {
	template := map[string]interface{}{
		"%entity": map[string]interface{}{"DataType": "person", "Id": "p1"},
	}
	x := mutate(t, template, &Context{})
	if x != "[p1]" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateEntityResolved(t *testing.T) {
	template := map[string]interface{}{
		"%entity": map[string]interface{}{"DataType": "person", "Id": "p1"},
	}
	x := mutate(t, template, &Context{
		GetEntity: func(id string) (string, bool) {
			return "Grace Hopper", id == "p1"
		},
	})
	if x != "Grace Hopper" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateWorkflowKeyUntouched(t *testing.T) {
	wf := map[string]interface{}{"Name": "order", "States": "%whatever"}
	template := map[string]interface{}{
		"Answer":   "starting %name",
		"workflow": wf,
	}
	x := mutate(t, template, &Context{
		Variables: map[string]interface{}{"name": "x"},
	})
	m := x.(map[string]interface{})
	if m["Answer"] != "starting x" {
		t.Fatalf("got %#v", m["Answer"])
	}
	// The workflow subtree must not be baked at mutation time.
	got := m["workflow"].(map[string]interface{})
	if got["States"] != "%whatever" {
		t.Fatalf("got %#v", got)
	}
}

func TestReplaceFirstBlockOnly(t *testing.T) {
	mc := &Context{
		Variables: map[string]interface{}{"x": "a", "y": "b"},
	}
	x := mutate(t, "%{x} and %{x} but %{y}", mc)
	s, is := x.(string)
	if !is {
		t.Fatalf("got %#v", x)
	}
	// Every occurrence of the first block is replaced; the
	// differently-worded second block is left unevaluated.
	if !strings.HasPrefix(s, "a and a") {
		t.Fatalf(`got "%s"`, s)
	}
	if !strings.Contains(s, "%{y}") {
		t.Fatalf(`got "%s"`, s)
	}
}

func TestMutateArrayAccessor(t *testing.T) {
	mc := &Context{
		Variables: map[string]interface{}{
			"fruits": []interface{}{"apple", "pear"},
		},
	}
	// The array-valued entry gains an index accessor under %fruits.
	x := mutate(t, `%{this["%fruits"](1)}`, mc)
	if x != "pear" {
		t.Fatalf("got %#v", x)
	}
}

func TestMutateDoesNotModifyInput(t *testing.T) {
	template := map[string]interface{}{"z": "one %name"}
	mutate(t, template, &Context{
		Variables: map[string]interface{}{"name": "x"},
	})
	if template["z"] != "one %name" {
		t.Fatalf("input was modified: %#v", template)
	}
}
