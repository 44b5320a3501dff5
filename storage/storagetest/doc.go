// Package storagetest provides an in-memory storage backend with fault
// injection and a test component that wires it into a storage.Service.
//
//	comp := storagetest.NewComponent()
//	testutil.T(t).Setup(comp)
//	id, err := comp.Service().Upload(ctx, storage.UploadInput{...})
package storagetest
