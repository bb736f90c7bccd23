package object

import (
	"fmt"
	"slices"

	"github.com/nasdf/zing/value"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

const (
	changesetParents     = "Parents"
	changesetGeneration  = "Generation"
	changesetTemplate    = "Template"
	changesetRecords     = "Records"
	changesetDeltas      = "Deltas"
	changesetAudits      = "Audits"
	changesetAttachments = "Attachments"

	deltaParent = "Parent"
	deltaAdd    = "Add"
	deltaRemove = "Remove"

	auditUser      = "User"
	auditTimestamp = "Timestamp"
)

// RecordNode returns the node representation of the record.
func RecordNode(r *Record) (datamodel.Node, error) {
	keys := r.Fields.SortedKeys()
	return qp.BuildMap(basicnode.Prototype.Map, int64(len(keys)+2), func(ma datamodel.MapAssembler) {
		if r.RecID != "" {
			qp.MapEntry(ma, RecIDField, qp.String(r.RecID))
		}
		qp.MapEntry(ma, RecTypeField, qp.String(r.RecType))
		for _, k := range keys {
			if value.IsNull(r.Fields[k]) {
				continue
			}
			qp.MapEntry(ma, k, value.Assemble(r.Fields[k]))
		}
	})
}

// DecodeRecord returns the record represented by the given node.
func DecodeRecord(lnk datamodel.Link, n datamodel.Node) (*Record, error) {
	v, err := value.FromNode(n)
	if err != nil {
		return nil, err
	}
	m, err := value.AsMap(v)
	if err != nil {
		return nil, fmt.Errorf("invalid record %s: %w", lnk, err)
	}
	rec := &Record{
		Hash:   lnk,
		Fields: make(value.Map, len(m)),
	}
	for k, fv := range m {
		switch k {
		case RecIDField:
			rec.RecID, err = value.AsString(fv)
		case RecTypeField:
			rec.RecType, err = value.AsString(fv)
		default:
			rec.Fields[k] = fv
		}
		if err != nil {
			return nil, fmt.Errorf("invalid record field %s: %w", k, err)
		}
	}
	return rec, nil
}

// SortLinks sorts the links by their string representation.
func SortLinks(links []datamodel.Link) {
	slices.SortFunc(links, func(a, b datamodel.Link) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		}
		return 0
	})
}

// LinkListNode returns a list node containing the given links in sorted order.
func LinkListNode(links []datamodel.Link) (datamodel.Node, error) {
	sorted := slices.Clone(links)
	SortLinks(sorted)
	return qp.BuildList(basicnode.Prototype.List, int64(len(sorted)), func(la datamodel.ListAssembler) {
		for _, l := range sorted {
			qp.ListEntry(la, qp.Link(l))
		}
	})
}

// DecodeLinkList returns the links contained in the given list node.
func DecodeLinkList(n datamodel.Node) ([]datamodel.Link, error) {
	links := make([]datamodel.Link, 0, n.Length())
	iter := n.ListIterator()
	for iter != nil && !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		lnk, err := v.AsLink()
		if err != nil {
			return nil, err
		}
		links = append(links, lnk)
	}
	return links, nil
}

func assembleLinks(links []datamodel.Link) qp.Assemble {
	sorted := slices.Clone(links)
	SortLinks(sorted)
	return qp.List(int64(len(sorted)), func(la datamodel.ListAssembler) {
		for _, l := range sorted {
			qp.ListEntry(la, qp.Link(l))
		}
	})
}

// ChangesetNode returns the node representation of the changeset.
func ChangesetNode(c *Changeset) (datamodel.Node, error) {
	return qp.BuildMap(basicnode.Prototype.Map, 7, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, changesetParents, qp.List(int64(len(c.Parents)), func(la datamodel.ListAssembler) {
			for _, p := range c.Parents {
				qp.ListEntry(la, qp.Link(p))
			}
		}))
		qp.MapEntry(ma, changesetGeneration, qp.Int(c.Generation))
		if c.Template != nil {
			qp.MapEntry(ma, changesetTemplate, qp.Link(c.Template))
		}
		qp.MapEntry(ma, changesetRecords, qp.Link(c.Records))
		qp.MapEntry(ma, changesetDeltas, qp.List(int64(len(c.Deltas)), func(la datamodel.ListAssembler) {
			for _, d := range c.Deltas {
				qp.ListEntry(la, qp.Map(3, func(ma datamodel.MapAssembler) {
					qp.MapEntry(ma, deltaParent, qp.Link(d.Parent))
					qp.MapEntry(ma, deltaAdd, assembleLinks(d.Add))
					qp.MapEntry(ma, deltaRemove, assembleLinks(d.Remove))
				}))
			}
		}))
		qp.MapEntry(ma, changesetAudits, qp.List(int64(len(c.Audits)), func(la datamodel.ListAssembler) {
			for _, a := range c.Audits {
				qp.ListEntry(la, qp.Map(2, func(ma datamodel.MapAssembler) {
					qp.MapEntry(ma, auditUser, qp.String(a.User))
					qp.MapEntry(ma, auditTimestamp, qp.Int(a.Timestamp))
				}))
			}
		}))
		names := make([]string, 0, len(c.Attachments))
		for k := range c.Attachments {
			names = append(names, k)
		}
		slices.Sort(names)
		qp.MapEntry(ma, changesetAttachments, qp.Map(int64(len(names)), func(ma datamodel.MapAssembler) {
			for _, k := range names {
				qp.MapEntry(ma, k, qp.Link(c.Attachments[k]))
			}
		}))
	})
}

// DecodeChangeset returns the changeset represented by the given node.
func DecodeChangeset(lnk datamodel.Link, n datamodel.Node) (*Changeset, error) {
	cs := &Changeset{
		Hash:        lnk,
		Attachments: make(map[string]datamodel.Link),
	}
	parentsNode, err := n.LookupByString(changesetParents)
	if err != nil {
		return nil, err
	}
	cs.Parents, err = DecodeLinkList(parentsNode)
	if err != nil {
		return nil, err
	}
	generationNode, err := n.LookupByString(changesetGeneration)
	if err != nil {
		return nil, err
	}
	cs.Generation, err = generationNode.AsInt()
	if err != nil {
		return nil, err
	}
	templateNode, err := n.LookupByString(changesetTemplate)
	if _, ok := err.(datamodel.ErrNotExists); err != nil && !ok {
		return nil, err
	}
	if templateNode != nil {
		cs.Template, err = templateNode.AsLink()
		if err != nil {
			return nil, err
		}
	}
	recordsNode, err := n.LookupByString(changesetRecords)
	if err != nil {
		return nil, err
	}
	cs.Records, err = recordsNode.AsLink()
	if err != nil {
		return nil, err
	}
	deltasNode, err := n.LookupByString(changesetDeltas)
	if err != nil {
		return nil, err
	}
	iter := deltasNode.ListIterator()
	for iter != nil && !iter.Done() {
		_, dn, err := iter.Next()
		if err != nil {
			return nil, err
		}
		d, err := decodeDelta(dn)
		if err != nil {
			return nil, err
		}
		cs.Deltas = append(cs.Deltas, d)
	}
	auditsNode, err := n.LookupByString(changesetAudits)
	if err != nil {
		return nil, err
	}
	iter = auditsNode.ListIterator()
	for iter != nil && !iter.Done() {
		_, an, err := iter.Next()
		if err != nil {
			return nil, err
		}
		a, err := decodeAudit(an)
		if err != nil {
			return nil, err
		}
		cs.Audits = append(cs.Audits, a)
	}
	attachmentsNode, err := n.LookupByString(changesetAttachments)
	if err != nil {
		return nil, err
	}
	mapIter := attachmentsNode.MapIterator()
	for mapIter != nil && !mapIter.Done() {
		k, v, err := mapIter.Next()
		if err != nil {
			return nil, err
		}
		name, err := k.AsString()
		if err != nil {
			return nil, err
		}
		cs.Attachments[name], err = v.AsLink()
		if err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func decodeDelta(n datamodel.Node) (Delta, error) {
	var d Delta
	parentNode, err := n.LookupByString(deltaParent)
	if err != nil {
		return d, err
	}
	d.Parent, err = parentNode.AsLink()
	if err != nil {
		return d, err
	}
	addNode, err := n.LookupByString(deltaAdd)
	if err != nil {
		return d, err
	}
	d.Add, err = DecodeLinkList(addNode)
	if err != nil {
		return d, err
	}
	removeNode, err := n.LookupByString(deltaRemove)
	if err != nil {
		return d, err
	}
	d.Remove, err = DecodeLinkList(removeNode)
	return d, err
}

func decodeAudit(n datamodel.Node) (Audit, error) {
	var a Audit
	userNode, err := n.LookupByString(auditUser)
	if err != nil {
		return a, err
	}
	a.User, err = userNode.AsString()
	if err != nil {
		return a, err
	}
	timestampNode, err := n.LookupByString(auditTimestamp)
	if err != nil {
		return a, err
	}
	a.Timestamp, err = timestampNode.AsInt()
	return a, err
}
