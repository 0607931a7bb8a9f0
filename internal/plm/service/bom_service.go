package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultMaxBOMDepth bounds BOM traversal when no depth is configured.
const DefaultMaxBOMDepth = 20

// BOMService BOM关系服务：父子边、多级展开、反查
type BOMService struct {
	db       *gorm.DB
	parts    *repository.PartRepository
	rels     *repository.RelationshipRepository
	audit    *AuditService
	maxDepth int
	log      *zap.Logger
}

// NewBOMService 创建BOM服务
func NewBOMService(db *gorm.DB, parts *repository.PartRepository, rels *repository.RelationshipRepository, audit *AuditService, maxDepth int, log *zap.Logger) *BOMService {
	if maxDepth < 1 {
		maxDepth = DefaultMaxBOMDepth
	}
	return &BOMService{db: db, parts: parts, rels: rels, audit: audit, maxDepth: maxDepth, log: log}
}

// AddEdgeRequest 添加BOM关系请求
type AddEdgeRequest struct {
	ParentPartID     string  `json:"parent_part_id" validate:"required"`
	ChildPartID      string  `json:"child_part_id" validate:"required"`
	Quantity         float64 `json:"quantity" validate:"gt=0"`
	RelationshipType string  `json:"relationship_type" validate:"max=32"`
	Notes            string  `json:"notes"`
}

// BOMRow is one line of a flattened BOM.
type BOMRow struct {
	Depth            int     `json:"depth"`
	Path             string  `json:"path"`
	RelationshipID   string  `json:"relationship_id"`
	ParentPartID     string  `json:"parent_part_id"`
	PartID           string  `json:"part_id"`
	PartNumber       string  `json:"part_number"`
	PartName         string  `json:"part_name"`
	PartRevision     string  `json:"part_revision"`
	ReleaseStatus    string  `json:"release_status"`
	PartLevel        string  `json:"part_level"`
	Description      string  `json:"description"`
	Quantity         float64 `json:"quantity"`
	RelationshipType string  `json:"relationship_type"`
	Notes            string  `json:"notes"`
}

// FlatBOM is the pre-order closure below a root part.
// Truncated is set when some branch went deeper than the depth bound.
type FlatBOM struct {
	Root      *entity.Part `json:"root"`
	Rows      []BOMRow     `json:"rows"`
	MaxDepth  int          `json:"max_depth"`
	Truncated bool         `json:"truncated"`
}

// BOMNode is one node of a nested BOM tree. The root has depth 0 and no edge.
type BOMNode struct {
	BOMRow
	Children  []*BOMNode `json:"children"`
	Truncated bool       `json:"truncated,omitempty"`
}

// AddEdge 添加父子关系
func (s *BOMService) AddEdge(ctx context.Context, actor string, req *AddEdgeRequest) (*entity.Relationship, error) {
	req.ParentPartID = strings.TrimSpace(req.ParentPartID)
	req.ChildPartID = strings.TrimSpace(req.ChildPartID)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.ParentPartID == req.ChildPartID {
		return nil, plmerr.Validation("a part cannot be its own child")
	}
	relType := strings.TrimSpace(req.RelationshipType)
	if relType == "" {
		relType = entity.DefaultRelationshipType
	}

	rel := &entity.Relationship{
		ParentPartID:     req.ParentPartID,
		ChildPartID:      req.ChildPartID,
		Quantity:         req.Quantity,
		RelationshipType: relType,
		Notes:            req.Notes,
	}
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.parts.WithTx(tx)
		rels := s.rels.WithTx(tx)

		for _, id := range []string{req.ParentPartID, req.ChildPartID} {
			exists, err := parts.Exists(ctx, id)
			if err != nil {
				return err
			}
			if !exists {
				return plmerr.NotFound("part", id)
			}
		}
		dup, err := rels.ExistsPair(ctx, req.ParentPartID, req.ChildPartID)
		if err != nil {
			return err
		}
		if dup {
			return plmerr.Conflict("relationship %s -> %s already exists", req.ParentPartID, req.ChildPartID)
		}
		if err := rels.Create(ctx, rel); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionAddRelationship,
			EntityType: entity.AuditEntityRelationship,
			EntityID:   rel.ID,
			Detail: map[string]interface{}{
				"parent_part_id":    rel.ParentPartID,
				"child_part_id":     rel.ChildPartID,
				"quantity":          rel.Quantity,
				"relationship_type": rel.RelationshipType,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("add relationship: %w", err)
	}
	return rel, nil
}

// DeleteEdge 删除父子关系
func (s *BOMService) DeleteEdge(ctx context.Context, id, actor string) error {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		rels := s.rels.WithTx(tx)
		rel, err := rels.FindByID(ctx, id)
		if err != nil {
			return notFound(err, "relationship", id)
		}
		if _, err := rels.Delete(ctx, id); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionDeleteRelationship,
			EntityType: entity.AuditEntityRelationship,
			EntityID:   id,
			Detail: map[string]interface{}{
				"parent_part_id": rel.ParentPartID,
				"child_part_id":  rel.ChildPartID,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("delete relationship %s: %w", id, err)
	}
	return nil
}

// Children 直接子件
func (s *BOMService) Children(ctx context.Context, partID string) ([]repository.LinkedPart, error) {
	if _, err := s.findPart(ctx, partID); err != nil {
		return nil, err
	}
	rows, err := s.rels.Children(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return rows, nil
}

// Parents 直接父件（where-used）
func (s *BOMService) Parents(ctx context.Context, partID string) ([]repository.LinkedPart, error) {
	if _, err := s.findPart(ctx, partID); err != nil {
		return nil, err
	}
	rows, err := s.rels.Parents(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("list parents: %w", err)
	}
	return rows, nil
}

// AllEdges 全部BOM关系
func (s *BOMService) AllEdges(ctx context.Context) ([]repository.EdgeView, error) {
	edges, err := s.rels.AllEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return edges, nil
}

// FlatBOM returns every descendant of rootID in pre-order, children ordered by
// part number. A part reached through different parents appears once per path.
func (s *BOMService) FlatBOM(ctx context.Context, rootID string) (*FlatBOM, error) {
	root, err := s.findPart(ctx, rootID)
	if err != nil {
		return nil, err
	}
	_, rows, truncated, err := s.expand(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("flat bom %s: %w", root.PartNumber, err)
	}
	return &FlatBOM{Root: root, Rows: rows, MaxDepth: s.maxDepth, Truncated: truncated}, nil
}

// Tree returns the nested BOM below partID.
func (s *BOMService) Tree(ctx context.Context, partID string) (*BOMNode, error) {
	root, err := s.findPart(ctx, partID)
	if err != nil {
		return nil, err
	}
	node, _, _, err := s.expand(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("bom tree %s: %w", root.PartNumber, err)
	}
	return node, nil
}

func (s *BOMService) findPart(ctx context.Context, id string) (*entity.Part, error) {
	part, err := s.parts.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "part", id)
	}
	return part, nil
}

// bomFrame is one entry of the explicit traversal stack.
type bomFrame struct {
	partID string
	depth  int
	next   int
	path   string
	node   *BOMNode
}

// expand walks the edge set depth-first from root without recursion. It keeps
// the set of parts on the current path: meeting one again is a cycle and fails
// with ErrCycle. Branches deeper than maxDepth are cut and reported as truncated.
func (s *BOMService) expand(ctx context.Context, root *entity.Part) (*BOMNode, []BOMRow, bool, error) {
	edges, err := s.rels.AllEdges(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	children := make(map[string][]repository.EdgeView, len(edges))
	for _, e := range edges {
		children[e.ParentPartID] = append(children[e.ParentPartID], e)
	}

	rootNode := &BOMNode{BOMRow: BOMRow{
		Path:          root.PartNumber,
		PartID:        root.ID,
		PartNumber:    root.PartNumber,
		PartName:      root.PartName,
		PartRevision:  root.PartRevision,
		ReleaseStatus: root.ReleaseStatus,
		PartLevel:     root.PartLevel,
		Description:   root.Description,
	}, Children: []*BOMNode{}}

	var rows []BOMRow
	truncated := false
	onPath := map[string]bool{root.ID: true}
	stack := []*bomFrame{{partID: root.ID, path: root.PartNumber, node: rootNode}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		kids := children[top.partID]
		if top.next >= len(kids) {
			delete(onPath, top.partID)
			stack = stack[:len(stack)-1]
			continue
		}
		e := kids[top.next]
		top.next++

		path := top.path + "/" + e.ChildPartNumber
		if onPath[e.ChildPartID] {
			return nil, nil, false, fmt.Errorf("%w: %s", plmerr.ErrCycle, path)
		}
		depth := top.depth + 1
		if depth > s.maxDepth {
			truncated = true
			top.node.Truncated = true
			continue
		}

		row := BOMRow{
			Depth:            depth,
			Path:             path,
			RelationshipID:   e.ID,
			ParentPartID:     e.ParentPartID,
			PartID:           e.ChildPartID,
			PartNumber:       e.ChildPartNumber,
			PartName:         e.ChildPartName,
			PartRevision:     e.ChildPartRevision,
			ReleaseStatus:    e.ChildReleaseStatus,
			PartLevel:        e.ChildPartLevel,
			Description:      e.ChildDescription,
			Quantity:         e.Quantity,
			RelationshipType: e.RelationshipType,
			Notes:            e.Notes,
		}
		rows = append(rows, row)

		node := &BOMNode{BOMRow: row, Children: []*BOMNode{}}
		top.node.Children = append(top.node.Children, node)

		onPath[e.ChildPartID] = true
		stack = append(stack, &bomFrame{partID: e.ChildPartID, depth: depth, path: path, node: node})
	}

	if truncated {
		s.log.Warn("bom traversal truncated",
			zap.String("root", root.PartNumber),
			zap.Int("max_depth", s.maxDepth),
		)
	}
	if rows == nil {
		rows = []BOMRow{}
	}
	return rootNode, rows, truncated, nil
}

// ImportEdge is one parent/child line identified by part numbers.
type ImportEdge struct {
	Row              int
	ParentPartNumber string
	ChildPartNumber  string
	Quantity         float64
	RelationshipType string
	Notes            string
}

// ImportFailure names a rejected import line.
type ImportFailure struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult 导入结果
type ImportResult struct {
	Created int             `json:"created"`
	Failed  []ImportFailure `json:"failed"`
}

// ImportEdges adds each line as its own edge. A bad line is reported and does
// not stop the others.
func (s *BOMService) ImportEdges(ctx context.Context, actor string, lines []ImportEdge) (*ImportResult, error) {
	result := &ImportResult{Failed: []ImportFailure{}}
	ids := map[string]string{}
	resolve := func(number string) (string, error) {
		number = NormalizePartNumber(number)
		if id, ok := ids[number]; ok {
			return id, nil
		}
		part, err := s.parts.GetViewByNumber(ctx, number)
		if err != nil {
			return "", notFound(err, "part", number)
		}
		ids[number] = part.ID
		return part.ID, nil
	}

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		parentID, err := resolve(line.ParentPartNumber)
		if err == nil {
			var childID string
			childID, err = resolve(line.ChildPartNumber)
			if err == nil {
				_, err = s.AddEdge(ctx, actor, &AddEdgeRequest{
					ParentPartID:     parentID,
					ChildPartID:      childID,
					Quantity:         line.Quantity,
					RelationshipType: line.RelationshipType,
					Notes:            line.Notes,
				})
			}
		}
		if err != nil {
			result.Failed = append(result.Failed, ImportFailure{Row: line.Row, Error: err.Error()})
			continue
		}
		result.Created++
	}
	s.log.Info("bom import finished", zap.Int("created", result.Created), zap.Int("failed", len(result.Failed)))
	return result, nil
}
