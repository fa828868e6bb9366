package httpapi

import (
	"io"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/service"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
)

// maxRequestBody caps JSON and protobuf bodies.  Image uploads use
// maxImageBody.
const (
	maxRequestBody = 64 << 10
	maxImageBody   = 5 << 20
)

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.  Gate scanners send "application/x-protobuf".
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/x-protobuf" ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// scanInputFromStruct reads qr_data, purpose and destination from a
// google.protobuf.Struct.  Absent keys stay nil.
func scanInputFromStruct(st *structpb.Struct) service.ScanInput {
	f := st.GetFields()
	in := service.ScanInput{Code: f["qr_data"].GetStringValue()}
	if v, ok := f["purpose"]; ok {
		s := v.GetStringValue()
		in.Purpose = &s
	}
	if v, ok := f["destination"]; ok {
		s := v.GetStringValue()
		in.Destination = &s
	}
	return in
}

func scanResponseToStruct(r types.ScanResponse) *structpb.Struct {
	fields := map[string]*structpb.Value{}
	put := func(k, v string) {
		if v != "" {
			fields[k] = structpb.NewStringValue(v)
		}
	}
	put("message", r.Message)
	put("action", r.Action)
	put("name", r.Name)
	put("purpose", r.Purpose)
	put("destination", r.Destination)
	if len(r.Details) > 0 {
		vals := make([]*structpb.Value, 0, len(r.Details))
		for _, d := range r.Details {
			vals = append(vals, structpb.NewStringValue(d))
		}
		fields["details"] = structpb.NewListValue(&structpb.ListValue{Values: vals})
	}
	return &structpb.Struct{Fields: fields}
}
