// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sort"
	"testing"
)

func ids(sessions []*Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	sort.Strings(out)
	return out
}

func TestTable_Descendants_MultiGeneration(t *testing.T) {
	tbl := NewTable()

	root := New("root", "conn-root")
	child := New("child", "conn-child")
	child.ParentID = "root"
	grandchild := New("grandchild", "conn-grandchild")
	grandchild.ParentID = "child"
	unrelated := New("unrelated", "conn-unrelated")

	tbl.Add(root)
	tbl.Add(child)
	tbl.Add(grandchild)
	tbl.Add(unrelated)

	got := ids(tbl.Descendants("root"))
	want := []string{"child", "grandchild", "root"}
	if len(got) != len(want) {
		t.Fatalf("Descendants(root) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Descendants(root) = %v, want %v", got, want)
			break
		}
	}
}

func TestTable_Descendants_UnknownID(t *testing.T) {
	tbl := NewTable()
	tbl.Add(New("root", "conn-root"))

	got := tbl.Descendants("does-not-exist")
	if got != nil {
		t.Errorf("Descendants(unknown) = %v, want nil", got)
	}
}

func TestTable_Descendants_NoChildren(t *testing.T) {
	tbl := NewTable()
	tbl.Add(New("root", "conn-root"))

	got := ids(tbl.Descendants("root"))
	if len(got) != 1 || got[0] != "root" {
		t.Errorf("Descendants(root) = %v, want [root]", got)
	}
}

func TestTable_Remove(t *testing.T) {
	tbl := NewTable()
	s := New("sess-1", "conn-1")
	tbl.Add(s)
	tbl.Remove("sess-1")

	if _, ok := tbl.Get("sess-1"); ok {
		t.Error("expected session removed by id")
	}
	if _, ok := tbl.GetByConnID("conn-1"); ok {
		t.Error("expected session removed by conn_id")
	}
}
