package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/types"
	"github.com/finwatch-lab/cryptofolio/pkg/errors"
)

type StorageTestSuite struct {
	suite.Suite

	dir   string
	store *FileSnapshotStore
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageTestSuite))
}

func (suite *StorageTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.store = NewFileSnapshotStore(filepath.Join(suite.dir, "portfolio.json"), logger.NewNopLogger())
}

func (suite *StorageTestSuite) TestLoadMissingFileReturnsEmpty() {
	snapshot, err := suite.store.Load()

	suite.Require().NoError(err)
	suite.Empty(snapshot.Assets)
	suite.Empty(snapshot.ID)
	suite.Zero(snapshot.TotalCost)
}

func (suite *StorageTestSuite) TestSaveThenLoadRoundTrip() {
	saved := types.PortfolioSnapshot{
		Assets: []types.Asset{
			{Name: "BTC", Quantity: 2, Price: 50000, Change: 1.5, Cost: 100000, PortfolioShare: 80},
			{Name: "ETH", Quantity: 10, Price: 2500, Change: -0.5, Cost: 25000, PortfolioShare: 20},
		},
		TotalCost: 125000,
	}

	suite.Require().NoError(suite.store.Save(saved))

	loaded, err := suite.store.Load()
	suite.Require().NoError(err)

	suite.NotEmpty(loaded.ID)
	suite.False(loaded.SavedAt.IsZero())
	suite.Equal(saved.Assets, loaded.Assets)
	suite.InDelta(125000, loaded.TotalCost, 1e-9)
}

func (suite *StorageTestSuite) TestSaveStampsFreshIdentity() {
	snapshot := types.PortfolioSnapshot{TotalCost: 1}

	suite.Require().NoError(suite.store.Save(snapshot))
	first, err := suite.store.Load()
	suite.Require().NoError(err)

	suite.Require().NoError(suite.store.Save(snapshot))
	second, err := suite.store.Load()
	suite.Require().NoError(err)

	suite.NotEqual(first.ID, second.ID)
}

func (suite *StorageTestSuite) TestSaveCreatesParentDirectory() {
	nested := NewFileSnapshotStore(filepath.Join(suite.dir, "state", "deep", "portfolio.json"), logger.NewNopLogger())

	suite.Require().NoError(nested.Save(types.PortfolioSnapshot{}))

	_, err := nested.Load()
	suite.NoError(err)
}

func (suite *StorageTestSuite) TestLoadCorruptFile() {
	path := filepath.Join(suite.dir, "portfolio.json")
	suite.Require().NoError(os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := suite.store.Load()

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeSnapshotLoadFailed))
}

func (suite *StorageTestSuite) TestSaveLeavesNoTempFiles() {
	suite.Require().NoError(suite.store.Save(types.PortfolioSnapshot{}))

	entries, err := os.ReadDir(suite.dir)
	suite.Require().NoError(err)
	suite.Len(entries, 1)
	suite.Equal("portfolio.json", entries[0].Name())
}
