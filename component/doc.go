// Package component defines lifecycle-managed infrastructure pieces (the
// storage service, its session store) and a registry that starts them in
// order and stops them in reverse.
package component
