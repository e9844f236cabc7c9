package action

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohitkumar/flowgate/model"
	"github.com/stretchr/testify/require"
)

func TestPredicates(t *testing.T) {
	data := map[string]any{
		"input": map[string]any{"amount": 150, "approved": true, "name": ""},
	}
	p := DefaultPredicate{}
	for expression, want := range map[string]bool{
		"$.input.amount > 100":          true,
		"$.input.amount > 1000":         false,
		"$.input.approved === true":     true,
		"{$.input.approved}":            true,
		"{$.input.name}":                false,
		"{$.input.missing}":             false,
		"$.input.amount > 100 && false": false,
	} {
		t.Run(expression, func(t *testing.T) {
			got, err := p.Evaluate(context.Background(), expression, data)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestJSPredicateErrors(t *testing.T) {
	_, err := JSPredicate{}.Evaluate(context.Background(), "$.input.", map[string]any{})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = JSPredicate{}.Evaluate(ctx, "while(true){}", map[string]any{})
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	calls := 0
	effect := EffectFunc(func(ctx context.Context, req EffectRequest) (map[string]any, error) {
		calls++
		require.Equal(t, "hello ada", req.Params["greeting"])
		require.Equal(t, "exec-1:mail", req.IdempotencyKey())
		return map[string]any{"ok": true}, nil
	})
	r := NewRegistry(DefaultPredicate{}, map[model.NodeKind]Effect{model.NODE_EMAIL: effect})

	for kind, signal := range map[model.NodeKind]Signal{
		model.NODE_START:    SIGNAL_ADVANCE,
		model.NODE_FORM:     SIGNAL_SUSPEND,
		model.NODE_APPROVAL: SIGNAL_SUSPEND,
		model.NODE_END:      SIGNAL_TERMINATE,
	} {
		a, err := r.Get(kind)
		require.NoError(t, err)
		res, err := a.Execute(context.Background(), Request{Node: &model.Node{ID: "n", Kind: kind}})
		require.NoError(t, err)
		require.Equal(t, signal, res.Signal, string(kind))
	}

	a, err := r.Get(model.NODE_EMAIL)
	require.NoError(t, err)
	res, err := a.Execute(context.Background(), Request{
		ExecutionID: "exec-1",
		Node:        &model.Node{ID: "mail", Kind: model.NODE_EMAIL, Config: map[string]any{"greeting": "hello {$.input.name}"}},
		Data:        map[string]any{"input": map[string]any{"name": "ada"}},
	})
	require.NoError(t, err)
	require.Equal(t, SIGNAL_ADVANCE, res.Signal)
	require.Equal(t, true, res.Output["ok"])
	require.Equal(t, 1, calls)

	_, err = r.Get(model.NODE_HTTP)
	require.ErrorAs(t, err, &NotRegisteredError{})
}

func TestConditionAction(t *testing.T) {
	a := NewConditionAction(DefaultPredicate{})
	node := &model.Node{ID: "c", Kind: model.NODE_CONDITION, Config: map[string]any{"expression": "$.score >= 10"}}
	res, err := a.Execute(context.Background(), Request{Node: node, Data: map[string]any{"score": 12}})
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	require.True(t, *res.Outcome)

	res, err = a.Execute(context.Background(), Request{Node: &model.Node{ID: "c2", Kind: model.NODE_CONDITION}})
	require.NoError(t, err)
	require.Nil(t, res.Outcome)
}

func TestHTTPEffect(t *testing.T) {
	var gotKey, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(HEADER_IDEMPOTENCY_KEY)
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	h := NewHTTPEffect(0)
	req := EffectRequest{
		ExecutionID: "e1",
		Node:        &model.Node{ID: "call"},
		Params:      map[string]any{"url": srv.URL + "/ok", "body": map[string]any{"a": 1}},
	}
	out, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 200, out["status"])
	require.Equal(t, map[string]any{"accepted": true}, out["body"])
	require.Equal(t, "e1:call", gotKey)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, float64(1), gotBody["a"])

	req.Params["url"] = srv.URL + "/fail"
	_, err = h.Execute(context.Background(), req)
	var statusErr HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.Status)

	_, err = h.Execute(context.Background(), EffectRequest{Node: &model.Node{ID: "x"}, Params: map[string]any{}})
	require.ErrorAs(t, err, &MissingParamError{})
}

func TestWebhookCallSignsBody(t *testing.T) {
	var sig string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(HEADER_SIGNATURE)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := &WebhookCallEffect{HTTP: NewHTTPEffect(0)}
	out, err := w.Execute(context.Background(), EffectRequest{
		Node:   &model.Node{ID: "hook"},
		Params: map[string]any{"url": srv.URL, "secret": "s3cr3t", "payload": map[string]any{"x": "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, out["status"])
	require.Equal(t, "sha256="+Sign([]byte("s3cr3t"), body), sig)
}

type recordingMailer struct {
	sent []Mail
}

func (m *recordingMailer) Send(ctx context.Context, mail Mail) error {
	m.sent = append(m.sent, mail)
	return nil
}

func TestEmailEffect(t *testing.T) {
	m := &recordingMailer{}
	e := &EmailEffect{Mailer: m}
	out, err := e.Execute(context.Background(), EffectRequest{
		Node:   &model.Node{ID: "mail"},
		Params: map[string]any{"to": "a@example.com, b@example.com", "subject": "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, true, out["sent"])
	require.Len(t, m.sent, 1)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, m.sent[0].To)

	_, err = e.Execute(context.Background(), EffectRequest{Node: &model.Node{ID: "mail"}, Params: map[string]any{}})
	require.ErrorAs(t, err, &MissingParamError{})
}

type memRecords struct {
	rows map[string]map[string]any
}

func (m *memRecords) InsertRecord(ctx context.Context, rec *model.Record) error {
	m.rows[rec.Collection+"/"+rec.ID] = rec.Data
	return nil
}

func (m *memRecords) UpdateRecord(ctx context.Context, collection, id string, values map[string]any) error {
	m.rows[collection+"/"+id] = values
	return nil
}

func TestDatabaseEffect(t *testing.T) {
	rec := &memRecords{rows: map[string]map[string]any{}}
	d := &DatabaseEffect{Records: rec}
	out, err := d.Execute(context.Background(), EffectRequest{
		Node:   &model.Node{ID: "db"},
		Params: map[string]any{"collection": "customers", "values": map[string]any{"name": "ada"}},
	})
	require.NoError(t, err)
	require.Equal(t, "insert", out["operation"])
	id := out["recordId"].(string)
	require.Equal(t, "ada", rec.rows["customers/"+id]["name"])

	_, err = d.Execute(context.Background(), EffectRequest{
		Node:   &model.Node{ID: "db"},
		Params: map[string]any{"collection": "customers", "operation": "update"},
	})
	require.ErrorAs(t, err, &MissingParamError{})

	_, err = d.Execute(context.Background(), EffectRequest{
		Node:   &model.Node{ID: "db"},
		Params: map[string]any{"collection": "customers", "operation": "drop"},
	})
	require.Error(t, err)
}
