package script

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/pkg/jsonpath"
	"github.com/wesleyorama2/surge/pkg/jsonschema"
)

// check is a compiled response validation.
type check struct {
	name string
	eval func(resp *httpclient.Response) bool
}

func compileCheck(c config.CheckConfig) (check, error) {
	chk := check{name: c.DisplayName()}

	switch c.Type {
	case config.CheckStatus:
		want := c.Status
		if want == 0 {
			want = 200
		}
		chk.eval = func(resp *httpclient.Response) bool {
			return resp.Status == want
		}

	case config.CheckDuration:
		limit := c.Max.Std()
		chk.eval = func(resp *httpclient.Response) bool {
			return resp.Timings.Duration < limit
		}

	case config.CheckJSON:
		chk.eval = func(resp *httpclient.Response) bool {
			return gjson.ValidBytes(resp.Body)
		}

	case config.CheckBody:
		sub := c.Contains
		chk.eval = func(resp *httpclient.Response) bool {
			if len(resp.Body) == 0 {
				return false
			}
			return sub == "" || bytes.Contains(resp.Body, []byte(sub))
		}

	case config.CheckJSONPath:
		path, equals := c.Path, c.Equals
		chk.eval = func(resp *httpclient.Response) bool {
			if equals == nil {
				_, err := jsonpath.Lookup(resp.Body, path)
				return err == nil
			}
			ok, err := jsonpath.Equals(resp.Body, path, *equals)
			return err == nil && ok
		}

	case config.CheckSchema:
		schema, err := jsonschema.CompileValue("check.schema.json", c.Schema)
		if err != nil {
			return check{}, err
		}
		chk.eval = func(resp *httpclient.Response) bool {
			return len(schema.ValidateJSON(resp.Body)) == 0
		}

	default:
		return check{}, fmt.Errorf("invalid check type: %s", c.Type)
	}
	return chk, nil
}
