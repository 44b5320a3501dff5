// Package testutil gives test doubles of infrastructure components a common
// lifecycle, so tests can start them, reset them between cases and stop them
// automatically.
//
//	func TestUpload(t *testing.T) {
//	    comp := storagetest.NewComponent()
//	    testutil.T(t).Setup(comp)
//	    // comp is stopped when the test ends
//	}
package testutil
