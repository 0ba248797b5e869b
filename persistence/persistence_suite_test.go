package persistence_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/db"
	"github.com/cadenza-av/cadenza/model"
	"github.com/cadenza-av/cadenza/persistence"
)

func TestPersistence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Persistence Suite")
}

var (
	ctx context.Context
	ds  model.DataStore
)

var _ = BeforeSuite(func() {
	ctx = context.Background()
	conf.Server.Database.Driver = "sqlite3"
	conf.Server.Database.Path = "file:cadenzatest?mode=memory&cache=shared&_foreign_keys=on"
	conf.Server.Database.EnableTxn = true
	conf.Server.Database.ShutdownAttempts = 5

	conn, err := db.Open(ctx)
	Expect(err).ToNot(HaveOccurred())
	ds = persistence.New(conn, nil)
})

var _ = AfterSuite(func() {
	if ds != nil {
		Expect(ds.Close()).To(Succeed())
	}
})

// newTestItem builds a pure item under the given physical path.
func newTestItem(location, title, mime string) *model.Object {
	obj := model.NewObject(model.ObjectTypeItem)
	obj.Location = location
	obj.Title = title
	obj.MimeType = mime
	obj.Class = model.ClassMusicTrack
	obj.LastModified = time.Unix(1700000000, 0)
	res := model.NewResource(model.HandlerDefault, model.PurposeContent)
	res.SetAttribute(model.ResAttrProtocolInfo, model.RenderProtocolInfo(mime))
	res.SetAttribute(model.ResAttrSize, "4096")
	obj.AddResource(res)
	return obj
}

func addItem(location, title, mime string) *model.Object {
	obj := newTestItem(location, title, mime)
	_, err := ds.Object(ctx).AddObject(obj)
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	ExpectWithOffset(1, obj.ID).ToNot(Equal(int32(model.InvalidObjectID)))
	return obj
}

func uniquePath(stem string) string {
	return fmt.Sprintf("/%s-%d", stem, GinkgoRandomSeed())
}
