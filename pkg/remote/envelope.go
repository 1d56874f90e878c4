package remote

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	CodeOK = 200

	fieldCode = "code"
	fieldMsg  = "msg"
)

// Envelope is a decoded service response. Every response is a JSON object
// with a numeric code; 200 means success and any other value is an
// application error with an optional msg. Payload fields are named per
// endpoint and read through Field or Decode.
type Envelope struct {
	Code int
	Msg  string
	raw  gjson.Result
}

func ParseEnvelope(body []byte) (*Envelope, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response body is not valid JSON")
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return nil, errors.Errorf("response body is a JSON %s, expected an object", res.Type)
	}
	return &Envelope{
		Code: int(res.Get(fieldCode).Int()),
		Msg:  res.Get(fieldMsg).String(),
		raw:  res,
	}, nil
}

func (e *Envelope) OK() bool {
	return e != nil && e.Code == CodeOK
}

// Err returns nil for a successful envelope and an *AppError otherwise.
func (e *Envelope) Err(op string) error {
	if e.OK() {
		return nil
	}
	if e == nil {
		return &AppError{Op: op}
	}
	return &AppError{Op: op, Code: e.Code, Msg: e.Msg}
}

// Field returns the raw payload field with the given gjson path.
func (e *Envelope) Field(path string) gjson.Result {
	if e == nil {
		return gjson.Result{}
	}
	return e.raw.Get(path)
}

// Decode unmarshals the payload field into v. A missing or null field
// leaves v untouched and returns false.
func (e *Envelope) Decode(path string, v any) (bool, error) {
	f := e.Field(path)
	if !f.Exists() || f.Type == gjson.Null {
		return false, nil
	}
	if err := json.Unmarshal([]byte(f.Raw), v); err != nil {
		return true, errors.Wrapf(err, "could not decode field %q", path)
	}
	return true, nil
}
