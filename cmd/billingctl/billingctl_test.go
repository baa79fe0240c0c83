package main

import (
	"reflect"
	"testing"
)

func TestColumnIndexes(t *testing.T) {
	header := []string{"\ufeffCode", " name ", "billing_method"}

	got, err := columnIndexes(header, []string{"billing_method", "code", "name"})
	if err != nil {
		t.Fatalf("columnIndexes: %v", err)
	}
	if want := []int{2, 0, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := columnIndexes(header, []string{"unit_price"}); err == nil {
		t.Fatal("expected error for missing column")
	}
}

func TestMasterSeedsOrder(t *testing.T) {
	seen := map[string]int{}
	for i, s := range masterSeeds {
		seen[s.table] = i
	}
	if seen["companies"] > seen["departments"] || seen["departments"] > seen["users"] {
		t.Fatalf("parents must be seeded before children: %v", seen)
	}
}
