package patch

import (
	"reflect"
	"strings"
)

// AllJSONPointerPaths lists the JSON pointer of every exported field of T, recursing into
// nested structs. Slices contribute "/-" and maps "/*".
func AllJSONPointerPaths[T any]() []string {
	typ := reflect.TypeFor[T]()
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return []string{}
	}
	paths := make([]string, 0)
	collectPaths(typ, "", &paths, map[reflect.Type]bool{})
	return paths
}

func collectPaths(typ reflect.Type, prefix string, paths *[]string, visited map[reflect.Type]bool) {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if visited[typ] {
		return
	}

	switch typ.Kind() {
	case reflect.Struct:
		visited[typ] = true
		defer delete(visited, typ)
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			name := jsonFieldName(field)
			if name == "-" {
				continue
			}
			fieldPath := prefix + "/" + escapePointer(name)
			*paths = append(*paths, fieldPath)
			collectPaths(field.Type, fieldPath, paths, visited)
		}
	case reflect.Slice, reflect.Array:
		elemPath := prefix + "/-"
		*paths = append(*paths, elemPath)
		if isStruct(typ.Elem()) {
			collectPaths(typ.Elem(), elemPath, paths, visited)
		}
	case reflect.Map:
		valuePath := prefix + "/*"
		*paths = append(*paths, valuePath)
		if isStruct(typ.Elem()) {
			collectPaths(typ.Elem(), valuePath, paths, visited)
		}
	}
}

func isStruct(typ reflect.Type) bool {
	return typ.Kind() == reflect.Struct || (typ.Kind() == reflect.Pointer && typ.Elem().Kind() == reflect.Struct)
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" {
		return field.Name
	}
	return name
}
