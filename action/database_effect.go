package action

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/model"
)

type RecordWriter interface {
	InsertRecord(ctx context.Context, rec *model.Record) error
	UpdateRecord(ctx context.Context, collection string, id string, values map[string]any) error
}

// DatabaseEffect writes into a record collection. Config: collection,
// operation (insert or update), id (required for update) and values.
type DatabaseEffect struct {
	Records RecordWriter
}

func (d *DatabaseEffect) Execute(ctx context.Context, req EffectRequest) (map[string]any, error) {
	collection := stringParam(req.Params, "collection")
	if collection == "" {
		return nil, MissingParamError{Node: req.Node.ID, Param: "collection"}
	}
	values, _ := req.Params["values"].(map[string]any)
	id := stringParam(req.Params, "id")
	op := stringParam(req.Params, "operation")
	switch op {
	case "", "insert":
		op = "insert"
		if id == "" {
			id = uuid.NewString()
		}
		if err := d.Records.InsertRecord(ctx, &model.Record{Collection: collection, ID: id, Data: values}); err != nil {
			return nil, err
		}
	case "update":
		if id == "" {
			return nil, MissingParamError{Node: req.Node.ID, Param: "id"}
		}
		if err := d.Records.UpdateRecord(ctx, collection, id, values); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("node %s: unsupported operation %q", req.Node.ID, op)
	}
	return map[string]any{"recordId": id, "operation": op, "collection": collection}, nil
}
