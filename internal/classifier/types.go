package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/GoosieGav/PestHub/internal/pests"
)

// Confidence is the backend's confidence indicator, kept as an opaque
// display string. The wire value may be a JSON string ("97.31%") or a
// JSON number (0.9731); numbers keep their literal text.
type Confidence string

// UnmarshalJSON accepts a string, a number or null.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Confidence(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("confidence: %w", err)
		}
		*c = Confidence(n.String())
	}
	return nil
}

// ClassificationResult is the /predict verdict.
type ClassificationResult struct {
	IsPest     bool       `json:"is_pest"`
	ClassName  string     `json:"class_name"`
	Confidence Confidence `json:"confidence"`
	IsNew      bool       `json:"is_new"`
	Message    string     `json:"message"`
	InfoURL    string     `json:"info_url,omitempty"`
}

// Identification is the pest-only view of a positive verdict.
type Identification struct {
	ClassName  string
	Confidence Confidence
	IsNew      bool
	InfoURL    string
}

// Identification returns the identified pest when the image was judged to
// depict one. A negative verdict is still a successful call; its reason is
// in Message.
func (r ClassificationResult) Identification() (Identification, bool) {
	if !r.IsPest {
		return Identification{}, false
	}
	return Identification{
		ClassName:  r.ClassName,
		Confidence: r.Confidence,
		IsNew:      r.IsNew,
		InfoURL:    r.InfoURL,
	}, true
}

// PestData is a pest record synthesized or cached by the backend.
type PestData struct {
	pests.Record
	InfoURL string `json:"info_url,omitempty"`
}

// SearchResult is the /search_pest answer.
type SearchResult struct {
	IsPest   bool      `json:"is_pest"`
	PestData *PestData `json:"pest_data,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Pest returns the matched record. It reports false when the query was not
// recognized as a pest.
func (r SearchResult) Pest() (PestData, bool) {
	if !r.IsPest || r.PestData == nil {
		return PestData{}, false
	}
	return *r.PestData, true
}

// PestDetails is the backend-defined body of GET /pest/{name}.
type PestDetails struct {
	ContentType string
	Body        []byte
}

// IsJSON reports whether the backend answered with a JSON document.
func (d PestDetails) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(d.ContentType)
	if err != nil {
		return json.Valid(d.Body)
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Decode unmarshals a JSON body into v.
func (d PestDetails) Decode(v any) error {
	if !d.IsJSON() {
		return fmt.Errorf("pest details are %q, not JSON", d.ContentType)
	}
	return json.Unmarshal(d.Body, v)
}

// MarshalJSON embeds JSON bodies as-is and other bodies as text.
func (d PestDetails) MarshalJSON() ([]byte, error) {
	out := struct {
		ContentType string          `json:"content_type"`
		Body        json.RawMessage `json:"body,omitempty"`
		Text        string          `json:"text,omitempty"`
	}{ContentType: d.ContentType}
	if d.IsJSON() && json.Valid(d.Body) {
		out.Body = d.Body
	} else {
		out.Text = string(d.Body)
	}
	return json.Marshal(out)
}
