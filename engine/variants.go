package engine

import "github.com/mohitkumar/flowgate/model"

// Variants holds the engine implementations selectable per workflow.
type Variants struct {
	engines  map[model.EngineVersion]*Engine
	fallback model.EngineVersion
}

// NewVariants indexes engines by version. Definitions that name no version,
// or an unknown one, run on def.
func NewVariants(def model.EngineVersion, engines ...*Engine) *Variants {
	v := &Variants{engines: make(map[model.EngineVersion]*Engine), fallback: def}
	for _, e := range engines {
		v.engines[e.Version()] = e
	}
	return v
}

func (v *Variants) For(def *model.WorkflowDefinition) *Engine {
	if e, ok := v.engines[def.EngineVersion]; ok {
		return e
	}
	return v.engines[v.fallback]
}

// Other returns a different variant than e, or nil when e is the only one.
func (v *Variants) Other(e *Engine) *Engine {
	for _, version := range []model.EngineVersion{model.ENGINE_V2, model.ENGINE_V1} {
		if other, ok := v.engines[version]; ok && other != e {
			return other
		}
	}
	return nil
}
