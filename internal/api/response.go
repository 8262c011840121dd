package api

import (
	"encoding/json"
	"errors"
	"net/http"

	xerrors "AgentKernel/internal/errors"
)

// writeJSON 写出 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

type errorBody struct {
	Error string       `json:"error"`
	Code  xerrors.Code `json:"code,omitempty"`
}

// writeError 写出错误响应，带错误码的错误同时返回其 code。
func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if coded, ok := xerrors.From(err); ok {
		body.Code = coded.Code()
		body.Error = coded.Message()
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	coded, ok := xerrors.From(err)
	if !ok {
		return http.StatusBadGateway
	}
	switch coded.Code() {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

var errBadBody = xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败")

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(errBadBody, err)
	}
	return nil
}
