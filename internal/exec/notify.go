package exec

import (
	"context"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// note records an affected (subject, graph) pair for post-commit
// notification.
func (s *updateSession) note(kind tern.ChangeKind, subject int64, graph string) {
	s.changes = append(s.changes, change{kind: kind, subject: subject, graph: graph})
}

// dispatchChanges fans committed changes out to registered notifiers,
// one event per notify-flagged class an affected subject belongs to.
// Dispatch runs after commit and outside the storage lock; receivers
// must not write back on this connection from the callback.
func (e *Executor) dispatchChanges(ctx context.Context, changes []change) {
	if len(changes) == 0 {
		return
	}
	e.notifyMu.Lock()
	notifiers := append([]tern.Notifier(nil), e.notifiers...)
	e.notifyMu.Unlock()
	if len(notifiers) == 0 {
		return
	}

	notifyClasses := e.model.NotifyClasses()
	if len(notifyClasses) == 0 {
		return
	}

	// Resolve each changed subject's IRI and classes once.
	type subjectInfo struct {
		uri     string
		classes map[rdf.IRI]bool
	}
	infos := make(map[int64]*subjectInfo)
	for _, ch := range changes {
		if _, done := infos[ch.subject]; done {
			continue
		}
		uri, err := e.db.ResourceURI(ctx, ch.subject)
		if err != nil {
			e.log.Warn("notification: resolving subject failed", "id", ch.subject, "error", err)
			continue
		}
		info := &subjectInfo{uri: uri, classes: make(map[rdf.IRI]bool)}
		rows, err := e.db.Query(ctx, `
			SELECT r.Uri FROM "Resource_rdf:type" t JOIN Resource r ON r.ID = t."rdf:type"
			WHERE t.ID = ?`, ch.subject)
		if err == nil {
			for rows.Next() {
				var cls string
				if rows.Scan(&cls) == nil {
					info.classes[rdf.IRI(cls)] = true
				}
			}
			rows.Close()
		}
		infos[ch.subject] = info
	}

	events := make(map[rdf.IRI]*tern.ChangeEvent)
	for _, ch := range changes {
		info := infos[ch.subject]
		if info == nil {
			continue
		}
		for _, cid := range notifyClasses {
			classIRI := e.model.Class(cid).IRI
			if !info.classes[classIRI] && ch.kind != tern.ChangeRemoved {
				continue
			}
			ev := events[classIRI]
			if ev == nil {
				ev = &tern.ChangeEvent{ClassIRI: string(classIRI)}
				events[classIRI] = ev
			}
			ev.Changes = append(ev.Changes, tern.ResourceChange{
				Kind:    ch.kind,
				Graph:   ch.graph,
				Subject: info.uri,
			})
		}
	}

	for _, ev := range events {
		for _, n := range notifiers {
			n.Notify(*ev)
		}
	}
}
