package ocfl_test

import "path/filepath"

var (
	storeFixturePath  = filepath.Join("testdata", "store-fixtures")
	objectFixturePath = filepath.Join("testdata", "object-fixtures")
)
