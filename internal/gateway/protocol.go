package gateway

import (
	json "github.com/goccy/go-json"

	"github.com/san-kum/simbridge/internal/errs"
)

// Host → integrator.
const (
	MethodAddState       = "addState"
	MethodGetState       = "getState"
	MethodGetStates      = "getStates"
	MethodRunIntegration = "runIntegration"
	MethodStopScript     = "stopScript"
)

// Integrator → host.
const (
	MethodIntegratorReady = "integratorReady"
	MethodResultsReady    = "resultsReady"
)

const (
	kindRequest  = "request"
	kindResponse = "response"
)

type frame struct {
	ID     uint64          `json:"id"`
	Kind   string          `json:"kind"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    errs.Code `json:"code"`
	Op      string    `json:"op,omitempty"`
	Name    string    `json:"name,omitempty"`
	Message string    `json:"message,omitempty"`
}

type readyParams struct {
	IntegratorID string   `json:"integrator_id"`
	Implements   []string `json:"implements"`
}

type resultsParams struct {
	IntegratorID string `json:"integrator_id"`
}

type stateParams struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type valueResult struct {
	Value any `json:"value"`
}

func toWire(method string, err error) *wireError {
	w := &wireError{Code: errs.CodeOf(err), Op: method, Message: errs.Detail(err)}
	var e *errs.E
	if errs.As(err, &e) {
		if e.Op != "" {
			w.Op = e.Op
		}
		w.Name = e.Name
	}
	return w
}

func (w *wireError) err() error {
	return errs.FromWire(w.Code, w.Op, w.Name, w.Message)
}
