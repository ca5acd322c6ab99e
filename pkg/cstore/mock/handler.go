package mock

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Handler serves the chainstore HTTP API over m. Values travel as the JSON
// text they were written with, wrapped in a {"result": ...} envelope.
func Handler(m *Mock) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /get", func(w http.ResponseWriter, r *http.Request) {
		data, err := m.GetRaw(r.Context(), r.URL.Query().Get("key"))
		writeStored(w, data, err)
	})
	mux.HandleFunc("POST /set", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if !decodeRequest(w, r, &req) {
			return
		}
		writeResult(w, true, m.SetRaw(r.Context(), req.Key, []byte(req.Value)))
	})
	mux.HandleFunc("POST /delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key string `json:"key"`
		}
		if !decodeRequest(w, r, &req) {
			return
		}
		ok, err := m.DeleteRaw(r.Context(), req.Key)
		writeResult(w, ok, err)
	})
	mux.HandleFunc("GET /get_status", func(w http.ResponseWriter, r *http.Request) {
		keys, err := m.ListKeys(r.Context())
		if keys == nil {
			keys = []string{}
		}
		writeResult(w, map[string]any{"keys": keys}, err)
	})
	mux.HandleFunc("GET /hget", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		data, err := m.HGetRaw(r.Context(), q.Get("hkey"), q.Get("key"))
		writeStored(w, data, err)
	})
	mux.HandleFunc("POST /hset", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			HashKey string `json:"hkey"`
			Key     string `json:"key"`
			Value   string `json:"value"`
		}
		if !decodeRequest(w, r, &req) {
			return
		}
		writeResult(w, true, m.HSetRaw(r.Context(), req.HashKey, req.Key, []byte(req.Value)))
	})
	mux.HandleFunc("POST /hdel", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			HashKey string `json:"hkey"`
			Key     string `json:"key"`
		}
		if !decodeRequest(w, r, &req) {
			return
		}
		ok, err := m.HDeleteRaw(r.Context(), req.HashKey, req.Key)
		writeResult(w, ok, err)
	})
	mux.HandleFunc("GET /hgetall", func(w http.ResponseWriter, r *http.Request) {
		fields, err := m.HGetAllRaw(r.Context(), r.URL.Query().Get("hkey"))
		if err != nil || len(fields) == 0 {
			writeResult(w, nil, err)
			return
		}
		texts := make(map[string]string, len(fields))
		for field, raw := range fields {
			texts[field] = string(raw)
		}
		writeResult(w, texts, nil)
	})
	return mux
}

func decodeRequest(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeStored(w http.ResponseWriter, data []byte, err error) {
	if data == nil {
		writeResult(w, nil, err)
		return
	}
	writeResult(w, string(data), err)
}

func writeResult(w http.ResponseWriter, result any, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "is required") {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}
