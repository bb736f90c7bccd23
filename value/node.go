package value

import (
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// FromNode converts an ipld node into a Value.
func FromNode(n datamodel.Node) (Value, error) {
	switch n.Kind() {
	case datamodel.Kind_Null:
		return Null{}, nil
	case datamodel.Kind_String:
		s, err := n.AsString()
		return String(s), err
	case datamodel.Kind_Int:
		i, err := n.AsInt()
		return Int(i), err
	case datamodel.Kind_Float:
		f, err := n.AsFloat()
		return Float(f), err
	case datamodel.Kind_Bool:
		b, err := n.AsBool()
		return Bool(b), err
	case datamodel.Kind_List:
		out := make(List, 0, n.Length())
		iter := n.ListIterator()
		for iter != nil && !iter.Done() {
			_, v, err := iter.Next()
			if err != nil {
				return nil, err
			}
			ev, err := FromNode(v)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	case datamodel.Kind_Map:
		out := make(Map, n.Length())
		iter := n.MapIterator()
		for iter != nil && !iter.Done() {
			k, v, err := iter.Next()
			if err != nil {
				return nil, err
			}
			key, err := k.AsString()
			if err != nil {
				return nil, err
			}
			ev, err := FromNode(v)
			if err != nil {
				return nil, err
			}
			out[key] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported node kind %s", n.Kind())
	}
}

// ToNode converts a Value into an ipld node.
func ToNode(v Value) (datamodel.Node, error) {
	switch t := v.(type) {
	case nil, Null:
		return datamodel.Null, nil
	case String:
		return basicnode.NewString(string(t)), nil
	case Int:
		return basicnode.NewInt(int64(t)), nil
	case Float:
		return basicnode.NewFloat(float64(t)), nil
	case Bool:
		return basicnode.NewBool(bool(t)), nil
	case List:
		return qp.BuildList(basicnode.Prototype.List, int64(len(t)), func(la datamodel.ListAssembler) {
			for _, e := range t {
				qp.ListEntry(la, Assemble(e))
			}
		})
	case Map:
		return qp.BuildMap(basicnode.Prototype.Map, int64(len(t)), func(ma datamodel.MapAssembler) {
			for _, k := range t.SortedKeys() {
				qp.MapEntry(ma, k, Assemble(t[k]))
			}
		})
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// Assemble returns a qp.Assemble function that writes the value.
func Assemble(v Value) qp.Assemble {
	return func(na datamodel.NodeAssembler) {
		n, err := ToNode(v)
		if err != nil {
			panic(err)
		}
		if err := na.AssignNode(n); err != nil {
			panic(err)
		}
	}
}
