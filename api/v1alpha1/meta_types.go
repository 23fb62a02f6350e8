// Package v1alpha1 contains the manifest types accepted by hearth apply.
//
// The types follow Kubernetes API conventions (apiVersion, kind, metadata,
// spec) without depending on k8s.io/apimachinery.
package v1alpha1

// TypeMeta describes an individual object's type and API version.
type TypeMeta struct {
	Kind       string `json:"kind,omitempty" yaml:"kind,omitempty"`
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

// ObjectMeta is the metadata every manifest carries.
type ObjectMeta struct {
	// Name is the display name of the resource.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description is copied to the row and, for VMs, to the domain.
	// +optional
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Labels are informational only.
	// +optional
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// DeepCopy creates a deep copy of ObjectMeta.
func (in *ObjectMeta) DeepCopy() *ObjectMeta {
	if in == nil {
		return nil
	}
	out := new(ObjectMeta)
	*out = *in
	if in.Labels != nil {
		out.Labels = make(map[string]string, len(in.Labels))
		for k, v := range in.Labels {
			out.Labels[k] = v
		}
	}
	return out
}
