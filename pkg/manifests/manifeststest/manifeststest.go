// Package manifeststest provides sample operator manifests and archive
// helpers for tests.
package manifeststest

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

const PackageYAML = `packageName: etcd
channels:
- name: alpha
  currentCSV: etcdoperator.v0.9.2
defaultChannel: alpha
`

const CSVYAML = `apiVersion: operators.coreos.com/v1alpha1
kind: ClusterServiceVersion
metadata:
  name: etcdoperator.v0.9.2
  namespace: placeholder
  annotations:
    containerImage: quay.io/coreos/etcd-operator@sha256:c0301e4686c3ed4206e370b42de5a3bd2229b9fb4906cf85f3f30650424abec2
spec:
  displayName: etcd
  version: 0.9.2
  install:
    strategy: deployment
    spec:
      deployments:
      - name: etcd-operator
        spec:
          replicas: 1
          selector:
            matchLabels:
              name: etcd-operator
          template:
            metadata:
              labels:
                name: etcd-operator
            spec:
              containers:
              - name: etcd-operator
                image: quay.io/coreos/etcd-operator@sha256:c0301e4686c3ed4206e370b42de5a3bd2229b9fb4906cf85f3f30650424abec2
  customresourcedefinitions:
    owned:
    - name: etcdclusters.etcd.database.coreos.com
      version: v1beta2
      kind: EtcdCluster
      displayName: etcd Cluster
      description: Represents a cluster of etcd nodes.
`

const CRDYAML = `apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: etcdclusters.etcd.database.coreos.com
spec:
  group: etcd.database.coreos.com
  names:
    kind: EtcdCluster
    listKind: EtcdClusterList
    plural: etcdclusters
    singular: etcdcluster
  scope: Namespaced
  versions:
  - name: v1beta2
    served: true
    storage: true
    schema:
      openAPIV3Schema:
        type: object
        x-kubernetes-preserve-unknown-fields: true
`

const OldCSVYAML = `apiVersion: operators.coreos.com/v1alpha1
kind: ClusterServiceVersion
metadata:
  name: etcdoperator.v0.9.0
  namespace: placeholder
spec:
  displayName: etcd
  version: 0.9.0
  install:
    strategy: deployment
    spec:
      deployments: []
  customresourcedefinitions:
    owned:
    - name: etcdclusters.etcd.database.coreos.com
      version: v1beta2
      kind: EtcdCluster
`

// FlatBundle is a single directory operator bundle.
func FlatBundle() map[string]string {
	return map[string]string{
		"etcd.package.yaml":                              PackageYAML,
		"etcdoperator.v0.9.2.clusterserviceversion.yaml": CSVYAML,
		"etcdclusters.crd.yaml":                          CRDYAML,
	}
}

// NestedBundle is an operator bundle with one directory per version.
func NestedBundle() map[string]string {
	newCSV := bytes.Replace([]byte(CSVYAML), []byte("  version: 0.9.2\n"), []byte("  version: 0.9.2\n  replaces: etcdoperator.v0.9.0\n"), 1)
	return map[string]string{
		"etcd/etcd.package.yaml":                                    PackageYAML,
		"etcd/0.9.0/etcdoperator.v0.9.0.clusterserviceversion.yaml": OldCSVYAML,
		"etcd/0.9.0/etcdclusters.crd.yaml":                          CRDYAML,
		"etcd/0.9.2/etcdoperator.v0.9.2.clusterserviceversion.yaml": string(newCSV),
		"etcd/0.9.2/etcdclusters.crd.yaml":                          CRDYAML,
	}
}

// TB is the part of testing.TB the helpers need. GinkgoT() satisfies it too.
type TB interface {
	require.TestingT
	Helper()
	TempDir() string
}

// ZipBytes returns a zip archive holding files.
func ZipBytes(t TB, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// WriteZip writes a zip archive holding files into a test scoped directory
// and returns its path.
func WriteZip(t TB, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "manifests.zip")
	require.NoError(t, os.WriteFile(path, ZipBytes(t, files), 0600))
	return path
}

// WriteDir writes files below a test scoped directory and returns it.
func WriteDir(t TB, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}
