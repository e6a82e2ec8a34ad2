package storage

import "github.com/google/uuid"

func newStoreID() string { return uuid.NewString() }
