package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/graph"
	"github.com/teemow/slotfinder/internal/resources"
	"github.com/teemow/slotfinder/internal/server"
	"github.com/teemow/slotfinder/internal/tools/availability_tools"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool and resource documentation",
		Long: `Generate markdown documentation for the slotfinder MCP surface.
Tools are introspected from a server with every optional tool enabled, so the
output lists create-event even though serve defaults to read-only mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(outputFile string) error {
	// Stand-in services: registration only checks that a service exists.
	serverContext := server.NewServerContext(context.Background(), server.Deps{
		Availability: docsStub{},
		Linker:       docsStub{},
		Events:       docsStub{},
	})
	defer func() {
		_ = serverContext.Shutdown()
	}()

	mcpSrv := mcpserver.NewMCPServer("slotfinder", version,
		mcpserver.WithToolCapabilities(true),
	)

	if err := availability_tools.RegisterAvailabilityTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	serverTools := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}
	markdown := generateToolsMarkdown(tools)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document provides a complete reference of all tools available when running slotfinder as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	toolsByCategory := groupToolsByCategory(tools)

	sb.WriteString("## Table of Contents\n\n")
	categories := make([]string, 0, len(toolsByCategory))
	for category := range toolsByCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(category, " ", "-"))
		fmt.Fprintf(&sb, "- [%s](#%s)\n", category, anchor)
	}
	sb.WriteString("\n")

	sb.WriteString(resourcesMarkdown)

	sb.WriteString("## Caller Identity\n\n")
	sb.WriteString("Over HTTP the caller identity comes from the bearer token (or the `X-Identity` header when no JWT secret is configured). ")
	sb.WriteString("Over stdio, pass it in the optional `identity` argument.\n\n")

	for _, category := range categories {
		categoryTools := toolsByCategory[category]
		sort.Slice(categoryTools, func(i, j int) bool {
			return categoryTools[i].Name < categoryTools[j].Name
		})

		fmt.Fprintf(&sb, "## %s\n\n", category)

		for _, tool := range categoryTools {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

const resourcesMarkdown = "## Resources\n\n" +
	"- `" + resources.URISettings + "`: slot length bounds, maximum range, default time zone and configured providers.\n" +
	"- `" + resources.URILinkStatus + "`: whether the caller has linked a Google calendar (HTTP only; registered when Google is configured).\n\n"

func groupToolsByCategory(tools []mcp.Tool) map[string][]mcp.Tool {
	categories := make(map[string][]mcp.Tool)

	for _, tool := range tools {
		category := getCategoryFromToolName(tool.Name)
		categories[category] = append(categories[category], tool)
	}

	return categories
}

func getCategoryFromToolName(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) == 0 {
		return "Other"
	}

	prefix := parts[0]
	switch prefix {
	case "availability":
		return "Availability Tools"
	case "calendar":
		return "Calendar Tools"
	default:
		return "Other"
	}
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### %s\n\n", tool.Name)

	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}

	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")

		propNames := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		for _, name := range propNames {
			prop := tool.InputSchema.Properties[name]
			isRequired := slices.Contains(tool.InputSchema.Required, name)

			requiredStr := "optional"
			if isRequired {
				requiredStr = "required"
			}

			propMap, ok := prop.(map[string]any)
			if !ok {
				continue
			}

			propType := getPropertyType(propMap)

			fmt.Fprintf(&sb, "- `%s` (%s): ", name, requiredStr)

			if desc, ok := propMap["description"].(string); ok {
				sb.WriteString(desc)
			} else {
				fmt.Fprintf(&sb, "%s parameter", propType)
			}

			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}

// docsStub satisfies the server interfaces for documentation generation.
type docsStub struct{}

func (docsStub) GetAvailability(context.Context, availability.Request) ([]availability.Slot, error) {
	return nil, nil
}
func (docsStub) AuthURL(string) string                      { return "" }
func (docsStub) Link(context.Context, string, string) error { return nil }
func (docsStub) Unlink(context.Context, string) error       { return nil }
func (docsStub) CreateEvent(context.Context, string, graph.Event) (*graph.CreatedEvent, error) {
	return nil, nil
}
