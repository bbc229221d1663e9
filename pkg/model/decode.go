package model

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/operator-framework/api/pkg/operators/v1alpha1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsv1beta1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1beta1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

const skipRangeAnnotation = "olm.skipRange"

// CSVFromUnstructured decodes a ClusterServiceVersion.
func CSVFromUnstructured(u *unstructured.Unstructured) (*CSV, error) {
	var csv v1alpha1.ClusterServiceVersion
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, &csv); err != nil {
		return nil, fmt.Errorf("decode csv %q: %v", u.GetName(), err)
	}

	out := &CSV{
		Name:      csv.GetName(),
		Version:   csv.Spec.Version.String(),
		Replaces:  csv.Spec.Replaces,
		Skips:     csv.Spec.Skips,
		SkipRange: csv.GetAnnotations()[skipRangeAnnotation],
	}
	if len(csv.Spec.Icon) > 0 {
		icon := csv.Spec.Icon[0]
		data, err := base64.StdEncoding.DecodeString(icon.Data)
		if err != nil {
			return nil, fmt.Errorf("decode icon of csv %q: %v", out.Name, err)
		}
		out.Icon = &Icon{Data: data, MediaType: icon.MediaType}
	}
	for _, owned := range csv.Spec.CustomResourceDefinitions.Owned {
		group := ""
		if i := strings.Index(owned.Name, "."); i >= 0 {
			group = owned.Name[i+1:]
		}
		out.Owned = append(out.Owned, OwnedCRD{
			Name:             owned.Name,
			GroupVersionKind: GroupVersionKind{Group: group, Version: owned.Version, Kind: owned.Kind},
		})
	}
	return out, nil
}

// CRDFromUnstructured decodes a CustomResourceDefinition of either
// apiextensions.k8s.io/v1 or v1beta1.
func CRDFromUnstructured(u *unstructured.Unstructured) (*CRD, error) {
	switch u.GetAPIVersion() {
	case apiextensionsv1.SchemeGroupVersion.String():
		var crd apiextensionsv1.CustomResourceDefinition
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, &crd); err != nil {
			return nil, fmt.Errorf("decode crd %q: %v", u.GetName(), err)
		}
		out := &CRD{Name: crd.GetName()}
		for _, v := range crd.Spec.Versions {
			if !v.Served {
				continue
			}
			out.Served = append(out.Served, GroupVersionKind{
				Group:   crd.Spec.Group,
				Version: v.Name,
				Kind:    crd.Spec.Names.Kind,
				Plural:  crd.Spec.Names.Plural,
			})
		}
		return out, nil
	case apiextensionsv1beta1.SchemeGroupVersion.String():
		var crd apiextensionsv1beta1.CustomResourceDefinition
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, &crd); err != nil {
			return nil, fmt.Errorf("decode crd %q: %v", u.GetName(), err)
		}
		versions := []string{}
		for _, v := range crd.Spec.Versions {
			if v.Served {
				versions = append(versions, v.Name)
			}
		}
		if len(versions) == 0 && crd.Spec.Version != "" {
			versions = append(versions, crd.Spec.Version)
		}
		out := &CRD{Name: crd.GetName()}
		for _, v := range versions {
			out.Served = append(out.Served, GroupVersionKind{
				Group:   crd.Spec.Group,
				Version: v,
				Kind:    crd.Spec.Names.Kind,
				Plural:  crd.Spec.Names.Plural,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported crd apiVersion %q", u.GetAPIVersion())
}
