package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "build-xrefs":
		err = runBuildXrefs(args)
	case "build-similarity":
		err = runBuildSimilarity(args)
	case "embed":
		err = runEmbed(args)
	case "index-vectors":
		err = runIndexVectors(args)
	case "search-vectors":
		err = runSearchVectors(args)
	case "export-graph":
		err = runExportGraph(args)
	case "graph-neighbors":
		err = runGraphNeighbors(args)
	case "evaluate":
		err = runEvaluate(args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "builder %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  builder <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  build-xrefs       Build the symmetric cross reference and thematic graphs")
	fmt.Println("  build-similarity  Build the top-K semantic similarity table from embeddings")
	fmt.Println("  embed             Generate verse embeddings from the verse table")
	fmt.Println("  index-vectors     Upload verse embeddings to Milvus/Zilliz")
	fmt.Println("  search-vectors    Query the vector index for a verse's neighbours")
	fmt.Println("  export-graph      Export the cross reference graph to Neo4j")
	fmt.Println("  graph-neighbors   Read a verse's references back from Neo4j")
	fmt.Println("  evaluate          Score retrieval against a labelled dataset")
	fmt.Println()
	fmt.Println("Use 'builder <command> -h' for command flags.")
}
