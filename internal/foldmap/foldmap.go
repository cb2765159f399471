// Package foldmap provides an insertion-ordered map keyed by strings that
// compare equal once lowercased.
package foldmap

import (
	"container/list"
	"iter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type entry[V any] struct {
	key   string // lowercased
	name  string // most recently stored spelling
	value V
}

// Fold returns the lowercased form of name used as the map key. Only case
// differs between equal keys: "Straße" and "STRASSE" stay distinct.
func Fold(name string) string {
	return cases.Lower(language.Und).String(name)
}

// Map is an insertion-ordered map whose keys are matched case-insensitively.
// Setting an existing key keeps its position but replaces the stored
// spelling. The zero value is ready to use. Map is not safe for concurrent
// use.
type Map[V any] struct {
	order   *list.List
	entries map[string]*list.Element
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	m := &Map[V]{}
	m.init()
	return m
}

func (m *Map[V]) init() {
	if m.entries != nil {
		return
	}
	m.order = list.New()
	m.entries = make(map[string]*list.Element)
}

func (m *Map[V]) fold(name string) string {
	m.init()
	return Fold(name)
}

// Get returns the value stored under name.
func (m *Map[V]) Get(name string) (V, bool) {
	elem, ok := m.entries[m.fold(name)]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*entry[V]).value, true
}

// Has reports whether name is present.
func (m *Map[V]) Has(name string) bool {
	_, ok := m.entries[m.fold(name)]
	return ok
}

// Spelling returns the stored spelling for name.
func (m *Map[V]) Spelling(name string) (string, bool) {
	elem, ok := m.entries[m.fold(name)]
	if !ok {
		return "", false
	}
	return elem.Value.(*entry[V]).name, true
}

// Set stores value under name.
func (m *Map[V]) Set(name string, value V) {
	key := m.fold(name)
	if elem, ok := m.entries[key]; ok {
		e := elem.Value.(*entry[V])
		e.name = name
		e.value = value
		return
	}
	m.entries[key] = m.order.PushBack(&entry[V]{key: key, name: name, value: value})
}

// Delete removes name and reports whether it was present.
func (m *Map[V]) Delete(name string) bool {
	key := m.fold(name)
	elem, ok := m.entries[key]
	if !ok {
		return false
	}
	m.order.Remove(elem)
	delete(m.entries, key)
	return true
}

// Len returns the number of keys.
func (m *Map[V]) Len() int {
	return len(m.entries)
}

// Keys returns the stored spellings in insertion order.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, m.Len())
	for name := range m.All() {
		keys = append(keys, name)
	}
	return keys
}

// Values returns the values in insertion order.
func (m *Map[V]) Values() []V {
	values := make([]V, 0, m.Len())
	for _, value := range m.All() {
		values = append(values, value)
	}
	return values
}

// All iterates over (spelling, value) pairs in insertion order. The map
// must not be modified during iteration.
func (m *Map[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if m.order == nil {
			return
		}
		for elem := m.order.Front(); elem != nil; elem = elem.Next() {
			e := elem.Value.(*entry[V])
			if !yield(e.name, e.value) {
				return
			}
		}
	}
}

// Clear removes every key.
func (m *Map[V]) Clear() {
	if m.entries == nil {
		return
	}
	m.order.Init()
	clear(m.entries)
}
