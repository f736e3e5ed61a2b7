package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

const openAPIDocument = `
openapi: 3.0.3
info:
  title: Evidence API
  version: 1.0.0
paths:
  /v1/answer:
    post:
      operationId: answer
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/AnswerRequest'
      responses:
        '200':
          description: Evidence response, possibly carrying a fault.
  /v1/answer/export:
    post:
      operationId: exportAnswer
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/AnswerRequest'
      responses:
        '200':
          description: Workbook with items, conflicts and sources.
  /v1/classify:
    get:
      operationId: classify
      parameters:
        - name: q
          in: query
          schema:
            type: string
            maxLength: 4000
        - name: identifier
          in: query
          style: form
          explode: true
          schema:
            type: array
            items:
              type: string
      responses:
        '200':
          description: Strategy verdict.
components:
  schemas:
    AnswerRequest:
      type: object
      additionalProperties: false
      properties:
        query:
          type: string
          maxLength: 4000
        identifiers:
          type: array
          maxItems: 20
          items:
            type: string
            minLength: 1
            maxLength: 64
        filters:
          type: object
          additionalProperties:
            type: string
        top_k:
          type: integer
          minimum: 1
          maximum: 50
        critical_fields:
          type: array
          items:
            type: string
            minLength: 1
        extra_factors:
          type: object
          additionalProperties:
            type: number
            minimum: -1
            maximum: 1
        relational_timeout_ms:
          type: integer
          minimum: 1
          maximum: 60000
        semantic_timeout_ms:
          type: integer
          minimum: 1
          maximum: 60000
`

type requestValidator struct {
	answer *openapi3.Schema
}

var loadRequestValidator = sync.OnceValues(newRequestValidator)

func newRequestValidator() (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(openAPIDocument))
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	ref, ok := doc.Components.Schemas["AnswerRequest"]
	if !ok || ref == nil || ref.Value == nil {
		return nil, fmt.Errorf("openapi document has no AnswerRequest schema")
	}
	return &requestValidator{answer: ref.Value}, nil
}

func (v *requestValidator) validateAnswer(body []byte) error {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode answer request", err)
	}
	if err := v.answer.VisitJSON(value); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate answer request", err)
	}
	return nil
}
