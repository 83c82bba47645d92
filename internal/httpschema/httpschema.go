// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package httpschema builds a self-describing OpenAPI 3 document for
// netpoke's HTTP API from each endpoint's response DTO, deriving each
// response schema by reflection over the DTO's Go type (openapi3gen).
package httpschema

import (
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
)

// Endpoint describes one HTTP route the self-description document
// covers: its path/method, a short summary, and a zero-value example
// of its JSON response body.
type Endpoint struct {
	Path     string
	Method   string
	Summary  string
	Response any
}

// Document builds the OpenAPI 3 document describing endpoints.
func Document(endpoints []Endpoint) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "netpoke",
			Version: "1",
		},
		Paths: openapi3.NewPaths(),
	}

	for _, ep := range endpoints {
		schemaRef, err := openapi3gen.NewSchemaRefForValue(ep.Response, openapi3.Schemas{})
		if err != nil {
			return nil, fmt.Errorf("build schema for %s %s: %w", ep.Method, ep.Path, err)
		}

		resp := openapi3.NewResponse().
			WithDescription(ep.Summary).
			WithContent(openapi3.NewContentWithJSONSchemaRef(schemaRef))

		op := openapi3.NewOperation()
		op.Summary = ep.Summary
		op.Responses = openapi3.NewResponses(openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: resp}))

		item := doc.Paths.Find(ep.Path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(ep.Path, item)
		}
		switch ep.Method {
		case http.MethodGet:
			item.Get = op
		case http.MethodPost:
			item.Post = op
		case http.MethodPut:
			item.Put = op
		case http.MethodDelete:
			item.Delete = op
		}
	}

	return doc, nil
}
