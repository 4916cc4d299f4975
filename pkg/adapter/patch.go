package adapter

import (
	"encoding/json"
	"strings"

	"k8s.io/apimachinery/pkg/types"
)

// Patch is either a MergePatch or a JSONPatch, encoded to the bytes and
// k8s patch type PatchAutoscaler needs to issue the request.
type Patch interface {
	Encode() ([]byte, types.PatchType, error)
}

// MergePatch is a JSON merge-patch body (RFC 7386). Use it for setting or
// clearing top-level or one-level-nested fields such as spec.minReplicas
// or a single annotation.
type MergePatch map[string]interface{}

// Encode implements Patch.
func (p MergePatch) Encode() ([]byte, types.PatchType, error) {
	body, err := json.Marshal(map[string]interface{}(p))
	if err != nil {
		return nil, "", err
	}
	return body, types.MergePatchType, nil
}

// JSONPatchOp is a single RFC 6902 operation.
type JSONPatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// JSONPatch is an ordered list of RFC 6902 operations, used where the
// target may or may not already have the field present (e.g. the
// annotations map itself may not exist yet, so "add" on a key inside it
// would fail and must be preceded by an "add" of the map).
type JSONPatch []JSONPatchOp

// Encode implements Patch.
func (p JSONPatch) Encode() ([]byte, types.PatchType, error) {
	body, err := json.Marshal([]JSONPatchOp(p))
	if err != nil {
		return nil, "", err
	}
	return body, types.JSONPatchType, nil
}

// EscapeJSONPointerToken escapes a map key for use as a JSON Pointer path
// segment (RFC 6901 §3): "~" becomes "~0" and "/" becomes "~1". Annotation
// and label keys such as "klutch.it/status" contain "/" and must be
// escaped before being embedded in a patch path.
func EscapeJSONPointerToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")
	return token
}

// AnnotationPatchPath builds the JSON Pointer path for a single annotation
// key, e.g. AnnotationPatchPath("klutch.it/status") ->
// "/metadata/annotations/klutch.it~1status".
func AnnotationPatchPath(key string) string {
	return "/metadata/annotations/" + EscapeJSONPointerToken(key)
}
