package ir

// ContextPaths collects every context path an endpoint reads, grouped by the
// alias the path starts with. Record paths used as aggregate sources are
// extended with "id".
func ContextPaths(ep EndpointDef) map[string][][]string {
	c := pathCollector{paths: make(map[string][][]string)}
	base := ep.Base()
	c.expr(base.Authorize)
	for _, a := range base.Actions {
		c.action(a)
	}
	if list, ok := ep.(*ListEndpointDef); ok {
		c.expr(list.Filter)
	}
	return c.paths
}

type pathCollector struct {
	paths map[string][][]string
}

func (c *pathCollector) add(p []string) {
	if len(p) < 2 {
		return
	}
	c.paths[p[0]] = append(c.paths[p[0]], p)
}

func (c *pathCollector) expr(e TypedExprDef) {
	WalkExpr(e, func(e TypedExprDef) {
		switch e := e.(type) {
		case *AliasExpr:
			if e.Source == SourceContext {
				c.add(e.NamePath)
			}
		case *AggregateFunctionExpr:
			if e.Source == SourceContext {
				c.add(concatPath(e.SourcePath, []string{"id"}))
			}
		case *InSubqueryExpr:
			if e.Source == SourceContext {
				c.add(concatPath(e.SourcePath, []string{"id"}))
			}
		}
	})
}

func (c *pathCollector) query(q *QueryDef) {
	if q == nil {
		return
	}
	c.expr(q.Filter)
	if q.RootAlias != "" {
		c.add([]string{q.RootAlias, "id"})
	}
}

func (c *pathCollector) action(a ActionDef) {
	switch a := a.(type) {
	case *CreateOneAction:
		c.changeset(a.Changeset)
	case *UpdateOneAction:
		c.add(a.IDPath)
		c.changeset(a.Changeset)
	case *DeleteOneAction:
		c.add(a.IDPath)
	case *ExecuteHookAction:
		c.changeset(a.Args)
	case *FetchOneAction:
		c.query(a.Query)
	}
}

func (c *pathCollector) changeset(cs Changeset) {
	for _, op := range cs {
		c.setter(op.Setter)
	}
}

func (c *pathCollector) setter(s FieldSetter) {
	switch s := s.(type) {
	case *SetterReferenceValue:
		c.add(s.Path)
	case *SetterFieldsetInput:
		c.setter(s.Default)
	case *SetterFunction:
		for _, a := range s.Args {
			c.setter(a)
		}
	case *SetterHook:
		c.changeset(s.Args)
	case *SetterQuery:
		c.query(s.Query)
	}
}
