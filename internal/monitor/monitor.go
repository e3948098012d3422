// Package monitor validates inbound purchase payloads against JSON schema
// contracts before they reach the orchestrator.
package monitor

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Contract names, one per inbound payload.
const (
	ContractInitPurchase       = "init_purchase"
	ContractProcessPurchase    = "process_purchase"
	ContractThreeDLookup       = "threed_lookup"
	ContractThreeDAuthenticate = "threed_authenticate"
	ContractCaptcha            = "captcha"
)

// schemaBaseURL prefixes the ids of shared schemas referenced through $ref.
const schemaBaseURL = "https://schemas.purchase-gateway.local/"

var sharedSchemas = []string{"card"}

// ContractMonitor validates incoming requests against a JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewEmbeddedContractMonitor compiles one of the built-in contracts.
func NewEmbeddedContractMonitor(name string) (*ContractMonitor, error) {
	sl := gojsonschema.NewSchemaLoader()
	for _, shared := range sharedSchemas {
		raw, err := schemaFS.ReadFile("schemas/" + shared + ".json")
		if err != nil {
			return nil, fmt.Errorf("error reading schema %s: %w", shared, err)
		}
		if err := sl.AddSchema(schemaBaseURL+shared+".json", gojsonschema.NewBytesLoader(raw)); err != nil {
			return nil, fmt.Errorf("error loading schema %s: %w", shared, err)
		}
	}
	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown contract %s: %w", name, err)
	}
	schema, err := sl.Compile(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate validates the given request body against the loaded JSON schema.
// It returns true if valid, or false and a list of validation errors if invalid.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// Contracts holds the compiled monitor of every inbound payload.
type Contracts struct {
	monitors map[string]*ContractMonitor
}

// LoadContracts compiles every built-in contract.
func LoadContracts() (*Contracts, error) {
	c := &Contracts{monitors: make(map[string]*ContractMonitor)}
	for _, name := range []string{ContractInitPurchase, ContractProcessPurchase, ContractThreeDLookup, ContractThreeDAuthenticate, ContractCaptcha} {
		m, err := NewEmbeddedContractMonitor(name)
		if err != nil {
			return nil, err
		}
		c.monitors[name] = m
	}
	return c, nil
}

// Validate checks body against the named contract. An unknown name is an error.
func (c *Contracts) Validate(name string, body []byte) (bool, []string, error) {
	m, ok := c.monitors[name]
	if !ok {
		return false, nil, fmt.Errorf("unknown contract %s", name)
	}
	return m.Validate(body)
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
