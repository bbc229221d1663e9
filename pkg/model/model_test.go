package model

import (
	"encoding/base64"
	"testing"

	"github.com/ghodss/yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/operator-framework/omps/pkg/manifests/manifeststest"
)

type validator interface {
	Validate() error
}

const svgData = `PHN2ZyB2aWV3Qm94PTAgMCAxMDAgMTAwPjxjaXJjbGUgY3g9MjUgY3k9MjUgcj0yNS8+PC9zdmc+`
const pngData = `iVBORw0KGgoAAAANSUhEUgAAAAEAAAABAQMAAAAl21bKAAAAA1BMVEUAAACnej3aAAAAAXRSTlMAQObYZgAAAApJREFUCNdjYAAAAAIAAeIhvDMAAAAASUVORK5CYII=`

func mustBase64Decode(in string) []byte {
	out, err := base64.StdEncoding.DecodeString(in)
	if err != nil {
		panic(err)
	}
	return out
}

var etcdGVK = GroupVersionKind{Group: "etcd.database.coreos.com", Version: "v1beta2", Kind: "EtcdCluster", Plural: "etcdclusters"}

func etcdCRD() *CRD {
	return &CRD{Name: "etcdclusters.etcd.database.coreos.com", Served: []GroupVersionKind{etcdGVK}}
}

func etcdCSV(name, version, replaces string) *CSV {
	return &CSV{
		Name:     name,
		Version:  version,
		Replaces: replaces,
		Owned:    []OwnedCRD{{Name: "etcdclusters.etcd.database.coreos.com", GroupVersionKind: GroupVersionKind{Group: etcdGVK.Group, Version: "v1beta2", Kind: "EtcdCluster"}}},
	}
}

func alphaManifest(current string) PackageManifest {
	return PackageManifest{
		PackageName:    "etcd",
		Channels:       []ChannelRecord{{Name: "alpha", CurrentCSV: current}},
		DefaultChannel: "alpha",
	}
}

func TestChannelHead(t *testing.T) {
	type spec struct {
		name      string
		ch        Channel
		head      *CSV
		assertion require.ErrorAssertionFunc
	}

	head := &CSV{
		Name:     "anakin.v0.0.3",
		Replaces: "anakin.v0.0.1",
		Skips:    []string{"anakin.v0.0.2"},
	}

	specs := []spec{
		{
			name: "Success/Valid",
			ch: Channel{Bundles: map[string]*CSV{
				"anakin.v0.0.1": {Name: "anakin.v0.0.1"},
				"anakin.v0.0.2": {Name: "anakin.v0.0.2"},
				"anakin.v0.0.3": head,
			}},
			head:      head,
			assertion: require.NoError,
		},
		{
			name: "Success/SkipRange",
			ch: Channel{Bundles: map[string]*CSV{
				"anakin.v0.0.1": {Name: "anakin.v0.0.1", Version: "0.0.1"},
				"anakin.v0.0.3": {Name: "anakin.v0.0.3", Version: "0.0.3", SkipRange: "<0.0.3"},
			}},
			head:      &CSV{Name: "anakin.v0.0.3", Version: "0.0.3", SkipRange: "<0.0.3"},
			assertion: require.NoError,
		},
		{
			name: "Error/NoChannelHead",
			ch: Channel{Bundles: map[string]*CSV{
				"anakin.v0.0.1": {Name: "anakin.v0.0.1", Replaces: "anakin.v0.0.3"},
				"anakin.v0.0.3": head,
			}},
			assertion: require.Error,
		},
		{
			name: "Error/MultipleChannelHeads",
			ch: Channel{Bundles: map[string]*CSV{
				"anakin.v0.0.1": {Name: "anakin.v0.0.1"},
				"anakin.v0.0.3": head,
				"anakin.v0.0.4": {Name: "anakin.v0.0.4", Replaces: "anakin.v0.0.1"},
			}},
			assertion: require.Error,
		},
	}
	for _, s := range specs {
		t.Run(s.name, func(t *testing.T) {
			h, err := s.ch.Head()
			assert.Equal(t, s.head, h)
			s.assertion(t, err)
		})
	}
}

func TestNewPackage(t *testing.T) {
	csvs := []*CSV{
		etcdCSV("etcdoperator.v0.9.0", "0.9.0", ""),
		etcdCSV("etcdoperator.v0.9.2", "0.9.2", "etcdoperator.v0.9.0"),
		etcdCSV("etcdoperator.v1.0.0", "1.0.0", "etcdoperator.v0.9.2"),
	}
	pm := PackageManifest{
		PackageName: "etcd",
		Channels: []ChannelRecord{
			{Name: "alpha", CurrentCSV: "etcdoperator.v1.0.0"},
			{Name: "stable", CurrentCSV: "etcdoperator.v0.9.2"},
		},
		DefaultChannel: "stable",
	}

	pkg := NewPackage(pm, csvs, []*CRD{etcdCRD()})
	require.NoError(t, pkg.Validate())

	assert.Same(t, pkg.Channels["stable"], pkg.DefaultChannel)
	assert.ElementsMatch(t, []string{"etcdoperator.v0.9.0", "etcdoperator.v0.9.2", "etcdoperator.v1.0.0"}, sortedKeys(pkg.Channels["alpha"].Bundles))
	assert.ElementsMatch(t, []string{"etcdoperator.v0.9.0", "etcdoperator.v0.9.2"}, sortedKeys(pkg.Channels["stable"].Bundles))

	single := NewPackage(PackageManifest{PackageName: "etcd", Channels: pm.Channels[:1]}, csvs, []*CRD{etcdCRD()})
	assert.Same(t, single.Channels["alpha"], single.DefaultChannel)
}

func TestValidators(t *testing.T) {
	type spec struct {
		name      string
		v         validator
		assertion require.ErrorAssertionFunc
	}

	valid := func() *Package {
		return NewPackage(alphaManifest("etcdoperator.v0.9.2"),
			[]*CSV{etcdCSV("etcdoperator.v0.9.2", "0.9.2", "etcdoperator.v0.9.0")},
			[]*CRD{etcdCRD()})
	}
	var nilIcon *Icon

	specs := []spec{
		{
			name:      "Package/Success/Valid",
			v:         valid(),
			assertion: require.NoError,
		},
		{
			name:      "Package/Error/NoName",
			v:         &Package{},
			assertion: require.Error,
		},
		{
			name:      "Package/Error/NoChannels",
			v:         NewPackage(PackageManifest{PackageName: "etcd"}, nil, nil),
			assertion: require.Error,
		},
		{
			name: "Package/Error/NoDefaultChannel",
			v: NewPackage(PackageManifest{
				PackageName: "etcd",
				Channels: []ChannelRecord{
					{Name: "alpha", CurrentCSV: "etcdoperator.v0.9.2"},
					{Name: "beta", CurrentCSV: "etcdoperator.v0.9.2"},
				},
			}, []*CSV{etcdCSV("etcdoperator.v0.9.2", "0.9.2", "")}, []*CRD{etcdCRD()}),
			assertion: require.Error,
		},
		{
			name: "Package/Error/DefaultChannelNotInChannelMap",
			v: func() *Package {
				pm := alphaManifest("etcdoperator.v0.9.2")
				pm.DefaultChannel = "stable"
				return NewPackage(pm, []*CSV{etcdCSV("etcdoperator.v0.9.2", "0.9.2", "")}, []*CRD{etcdCRD()})
			}(),
			assertion: require.Error,
		},
		{
			name:      "Package/Error/CurrentCSVMissing",
			v:         NewPackage(alphaManifest("etcdoperator.v1.0.0"), []*CSV{etcdCSV("etcdoperator.v0.9.2", "0.9.2", "")}, []*CRD{etcdCRD()}),
			assertion: require.Error,
		},
		{
			name:      "Package/Error/OwnedCRDMissing",
			v:         NewPackage(alphaManifest("etcdoperator.v0.9.2"), []*CSV{etcdCSV("etcdoperator.v0.9.2", "0.9.2", "")}, nil),
			assertion: require.Error,
		},
		{
			name: "Package/Error/OwnedVersionNotServed",
			v: func() *Package {
				csv := etcdCSV("etcdoperator.v0.9.2", "0.9.2", "")
				csv.Owned[0].Version = "v1"
				return NewPackage(alphaManifest("etcdoperator.v0.9.2"), []*CSV{csv}, []*CRD{etcdCRD()})
			}(),
			assertion: require.Error,
		},
		{
			name: "Package/Error/CurrentCSVNotHead",
			v: NewPackage(alphaManifest("etcdoperator.v0.9.0"), []*CSV{
				etcdCSV("etcdoperator.v0.9.0", "0.9.0", "etcdoperator.v0.9.2"),
				etcdCSV("etcdoperator.v0.9.2", "0.9.2", "etcdoperator.v0.9.0"),
			}, []*CRD{etcdCRD()}),
			assertion: require.Error,
		},
		{
			name:      "Icon/Success/ValidSVG",
			v:         &Icon{Data: mustBase64Decode(svgData), MediaType: "image/svg+xml"},
			assertion: require.NoError,
		},
		{
			name:      "Icon/Success/ValidPNG",
			v:         &Icon{Data: mustBase64Decode(pngData), MediaType: "image/png"},
			assertion: require.NoError,
		},
		{
			name:      "Icon/Success/Nil",
			v:         nilIcon,
			assertion: require.NoError,
		},
		{
			name:      "Icon/Error/NoData",
			v:         &Icon{MediaType: "image/svg+xml"},
			assertion: require.Error,
		},
		{
			name:      "Icon/Error/DataIsNotImage",
			v:         &Icon{Data: []byte("{}"), MediaType: "application/json"},
			assertion: require.Error,
		},
		{
			name:      "Icon/Error/DataDoesNotMatchMediaType",
			v:         &Icon{Data: mustBase64Decode(pngData), MediaType: "image/jpeg"},
			assertion: require.Error,
		},
		{
			name:      "CSV/Error/NoName",
			v:         &CSV{},
			assertion: require.Error,
		},
		{
			name:      "CSV/Error/InvalidVersion",
			v:         &CSV{Name: "etcdoperator.v0.9.2", Version: "latest"},
			assertion: require.Error,
		},
		{
			name:      "CSV/Error/SkipRangeIncludesSelf",
			v:         &CSV{Name: "etcdoperator.v0.9.2", Version: "0.9.2", SkipRange: "<1.0.0"},
			assertion: require.Error,
		},
		{
			name:      "CSV/Error/EmptySkip",
			v:         &CSV{Name: "etcdoperator.v0.9.2", Version: "0.9.2", Skips: []string{""}},
			assertion: require.Error,
		},
		{
			name:      "CRD/Error/NoVersions",
			v:         &CRD{Name: "etcdclusters.etcd.database.coreos.com"},
			assertion: require.Error,
		},
		{
			name:      "CRD/Error/InvalidGroup",
			v:         &CRD{Name: "x", Served: []GroupVersionKind{{Group: "Not_A_Group", Version: "v1", Kind: "X"}}},
			assertion: require.Error,
		},
		{
			name:      "GVK/Success/Valid",
			v:         etcdGVK,
			assertion: require.NoError,
		},
		{
			name:      "GVK/Error/NoVersion",
			v:         GroupVersionKind{Group: "etcd.database.coreos.com", Kind: "EtcdCluster"},
			assertion: require.Error,
		},
	}
	for _, s := range specs {
		t.Run(s.name, func(t *testing.T) {
			s.assertion(t, s.v.Validate())
		})
	}
}

func decode(t *testing.T, doc string) *unstructured.Unstructured {
	t.Helper()
	u := &unstructured.Unstructured{}
	require.NoError(t, yaml.Unmarshal([]byte(doc), &u.Object))
	return u
}

func TestDecode(t *testing.T) {
	csv, err := CSVFromUnstructured(decode(t, manifeststest.CSVYAML))
	require.NoError(t, err)
	assert.Equal(t, "etcdoperator.v0.9.2", csv.Name)
	assert.Equal(t, "0.9.2", csv.Version)
	require.Len(t, csv.Owned, 1)
	assert.Equal(t, "etcd.database.coreos.com", csv.Owned[0].Group)

	crd, err := CRDFromUnstructured(decode(t, manifeststest.CRDYAML))
	require.NoError(t, err)
	assert.Equal(t, []GroupVersionKind{etcdGVK}, crd.Served)

	pkg := NewPackage(alphaManifest("etcdoperator.v0.9.2"), []*CSV{csv}, []*CRD{crd})
	assert.NoError(t, pkg.Validate())

	_, err = CRDFromUnstructured(decode(t, "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: x\n"))
	assert.Error(t, err)
}
