package scripting

import (
	"context"
	"io"
	"net/http"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// luaHTTPRequest implements _trahl.http_request(method, url, headers?,
// body?) -> (status, body). It suspends the job's goroutine until the
// round trip completes or ctx is cancelled; failures propagate as a
// script error rather than a (status, body) pair, since there is no
// meaningful status code for a transport failure.
func (h *Host) luaHTTPRequest(ctx context.Context, L *lua.LState) int {
	method := L.CheckString(1)
	url := L.CheckString(2)

	var body io.Reader
	if L.GetTop() >= 4 {
		if s, ok := L.Get(4).(lua.LString); ok {
			body = strings.NewReader(string(s))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		L.RaiseError("http_request: %s", err)
		return 0
	}

	if L.GetTop() >= 3 {
		if tbl, ok := L.Get(3).(*lua.LTable); ok {
			for k, v := range luaToStringMap(tbl) {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		L.RaiseError("http_request: %s", err)
		return 0
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		L.RaiseError("http_request: reading response: %s", err)
		return 0
	}

	L.Push(lua.LNumber(resp.StatusCode))
	L.Push(lua.LString(respBody))
	return 2
}
